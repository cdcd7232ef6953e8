package fragments

import (
	"io"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/config"
	"github.com/polydawn/persistgen/fs"
)

const (
	MachineIdCommitUnit = "systemd-machine-id-commit.service"
	DropInName          = "persistgen.conf"
)

// ExecStart lines also expand $VARIABLES.
var execEscaper = strings.NewReplacer("%", "%%", "$", "$$")

// A systemd drop-in: extra unit options layered over an existing unit.
type DropIn struct {
	Unit    string
	Options []*unit.UnitOption
}

// Where the drop-in goes, relative to a unit directory like /etc/systemd/system.
func (d DropIn) Path() string {
	return d.Unit + ".d/" + DropInName
}

func (d DropIn) String() string {
	body, err := io.ReadAll(unit.Serialize(d.Options))
	if err != nil {
		panic(err) // reading a bytes.Buffer
	}
	return string(body)
}

/*
	Drop-ins for units whose behavior must change on an impermanent root.

	With the machine id bind-mounted from persistent storage, the stock
	machine-id-commit service would check the wrong path and commit to the
	wrong root; both are reset and pointed at the persistent copy.
	(A symlinked machine id needs no changes.)
*/
func Units(cfg *config.Config) []DropIn {
	if !cfg.Enable || cfg.MachineIdMode != persistgen.Method_BindMount {
		return nil
	}
	persisted := fs.MustAbsolutePath(config.MachineIdPath).Under(cfg.PersistentStoragePath)
	return []DropIn{{
		Unit: MachineIdCommitUnit,
		Options: []*unit.UnitOption{
			unit.NewUnitOption("Unit", "ConditionPathIsMountPoint", ""),
			unit.NewUnitOption("Unit", "ConditionPathIsMountPoint", escapeSpecifiers(persisted.String())),
			unit.NewUnitOption("Service", "ExecStart", ""),
			unit.NewUnitOption("Service", "ExecStart", strings.Join([]string{
				"systemd-machine-id-setup",
				"--commit",
				"--root",
				quoteIfSpaced(execEscaper.Replace(cfg.PersistentStoragePath.String())),
			}, " ")),
		},
	}}
}
