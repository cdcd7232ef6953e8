package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/yaml.v3"

	"github.com/polydawn/persistgen"
)

/*
	One declaration file, as written.

	Scalars are pointers so that "not said" can be told apart from "said the
	zero value"; that's what lets `Merge` spot two files disagreeing.
	Paths stay strings here; they're parsed during resolution, where all the
	problems can be reported at once.
*/
type Declaration struct {
	Source string `yaml:"-"` // where this came from, for error messages.

	Enable                *bool   `yaml:"enable"`
	PersistentStoragePath *string `yaml:"persistentStoragePath"`
	InstallMountPoint     *string `yaml:"installMountPoint"`
	MachineIdMode         *string `yaml:"machineIdMode"`

	ExtraBindMounts map[string]BindMountDecl   `yaml:"extraBindMounts"`
	FileSystems     map[string]FileSystemDecl  `yaml:"fileSystems"`
	Persistence     map[string]PersistenceDecl `yaml:"persistence"`

	Sops  *SopsDecl  `yaml:"sops"`
	Disko *DiskoDecl `yaml:"disko"`
}

type BindMountDecl struct {
	NeededForBoot bool `yaml:"neededForBoot"`
}

type FileSystemDecl struct {
	Device  *string  `yaml:"device"`
	FsType  *string  `yaml:"fsType"`
	Options []string `yaml:"options"`
}

type PersistenceDecl struct {
	Directories []string   `yaml:"directories"`
	Files       []FileDecl `yaml:"files"`
}

type FileDecl struct {
	File     string `yaml:"file"`
	How      string `yaml:"how"`
	InInitrd bool   `yaml:"inInitrd"`
}

// A bare string is shorthand for a file persisted by symlink.
func (f *FileDecl) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		f.File = value.Value
		f.How = string(persistgen.Method_Symlink)
		return nil
	}
	type plain FileDecl
	if err := value.Decode((*plain)(f)); err != nil {
		return err
	}
	if f.How == "" {
		f.How = string(persistgen.Method_Symlink)
	}
	return nil
}

type SopsDecl struct {
	AgeKeyFile *string `yaml:"ageKeyFile"`
}

type DiskoDecl struct {
	Disk      *string `yaml:"disk"`
	Partition *string `yaml:"partition"`
}

/*
	Load a single declaration file.

	Unknown keys are rejected: a typo in a declaration would otherwise
	silently persist nothing.
*/
func LoadFile(path string) (*Declaration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Errorf(persistgen.ErrConfigUnreadable, "cannot open declaration file: %s", err)
	}
	defer f.Close()
	return Load(path, f)
}

func Load(source string, r io.Reader) (*Declaration, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, Errorf(persistgen.ErrConfigUnreadable, "cannot read declaration %s: %s", source, err)
	}
	decl := Declaration{}
	dec := yaml.NewDecoder(bytes.NewReader(body))
	dec.KnownFields(true)
	switch err := dec.Decode(&decl); err {
	case nil, io.EOF: // empty documents are fine; they just don't say anything.
	default:
		return nil, Errorf(persistgen.ErrConfigUnreadable, "cannot parse declaration %s: %s", source, err)
	}
	decl.Source = source
	return &decl, nil
}

/*
	Load every named declaration file, in order.  Stops at the first failure.
*/
func LoadFiles(paths []string) ([]*Declaration, error) {
	decls := make([]*Declaration, 0, len(paths))
	for _, pth := range paths {
		decl, err := LoadFile(pth)
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

func (d Declaration) String() string {
	if d.Source == "" {
		return "<anonymous declaration>"
	}
	return fmt.Sprintf("declaration %s", d.Source)
}
