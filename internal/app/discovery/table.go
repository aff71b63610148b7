package discovery

import "github.com/oxyum/sigrok/internal/domain"

// Entry is one row of the supported device table. Identity is compared
// verbatim with what a transport reports.
type Entry struct {
	Identity string                `yaml:"identity"`
	Model    string                `yaml:"model"`
	Name     string                `yaml:"name"`
	Channels int                   `yaml:"channels"`
	Rates    domain.RateCapability `yaml:"rates"`
}

const (
	IdentityZeroplus = "usb:0c12:700e"
	IdentityOLS      = "serial:ols"
	IdentityDemo     = "demo:logic"
	IdentityOPCUA    = "opcua:digital"
)

// DefaultTable lists the devices supported out of the box.
func DefaultTable() []Entry {
	return []Entry{
		{
			Identity: IdentityZeroplus,
			Model:    "zeroplus-lap-c",
			Name:     "ZEROPLUS Logic Cube LAP-C(16032)",
			Channels: 16,
			Rates:    domain.RateCapability{Low: 100, High: 100_000_000},
		},
		{
			Identity: IdentityOLS,
			Model:    "ols",
			Name:     "Openbench Logic Sniffer",
			Channels: 32,
			Rates: domain.RateCapability{List: []uint64{
				200_000, 250_000, 500_000,
				1_000_000, 2_000_000, 4_000_000, 8_000_000,
				10_000_000, 20_000_000, 50_000_000, 70_000_000,
				100_000_000, 200_000_000,
			}},
		},
		{
			Identity: IdentityDemo,
			Model:    "demo",
			Name:     "Demo pattern generator",
			Channels: 8,
			Rates:    domain.RateCapability{Low: 1, High: 1_000_000_000},
		},
		{
			Identity: IdentityOPCUA,
			Model:    "opcua",
			Name:     "OPC UA digital inputs",
			Channels: 64,
			Rates:    domain.RateCapability{Low: 1, High: 1000},
		},
	}
}
