// Package sym defines canonical symbols for qntx-migrate commands and log output.
// These symbols are stable across CLI output, documentation and structured logs.
package sym

// Command symbols - one per top-level CLI area.
const (
	AM      = "≡" // am - configuration and system settings
	AT      = "✦" // at - temporal marker (schedules, timezones)
	Migrate = "⇡" // migration jobs: create, run, cancel, reschedule
	Upgrade = "⇪" // upgrade-time batch
)

// System infrastructure symbols.
const (
	Pulse      = "꩜" // external scheduler: registrations and firing
	PulseOpen  = "✿" // graceful startup with interrupted run recovery
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
)

type entry struct {
	glyph   string
	command string
}

// Each glyph doubles as an alias of the command it marks.
var registry = []entry{
	{AM, "am"},
	{AT, "reschedule"},
	{Migrate, "run"},
	{Upgrade, "upgrade"},
	{Pulse, "pulse"},
	{DB, "db"},
}

// SymbolToCommand maps glyph strings to their text command equivalents.
var SymbolToCommand = map[string]string{}

// CommandToSymbol maps text commands to their canonical glyph strings.
var CommandToSymbol = map[string]string{}

func init() {
	for _, e := range registry {
		SymbolToCommand[e.glyph] = e.command
		CommandToSymbol[e.command] = e.glyph
	}
}
