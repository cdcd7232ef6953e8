package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/fs"
	"github.com/polydawn/persistgen/testutil"
)

func mustLoad(source, body string) *Declaration {
	decl, err := Load(source, strings.NewReader(body))
	if err != nil {
		panic(err)
	}
	return decl
}

func boolPtr(b bool) *bool       { return &b }
func strPtr(s string) *string    { return &s }
func p(s string) fs.AbsolutePath { return fs.MustAbsolutePath(s) }

const fullDeclaration = `
enable: true
persistentStoragePath: /persist
installMountPoint: /mnt
machineIdMode: bindmount
extraBindMounts:
  /var/lib/private: { neededForBoot: true }
  /var/log: {}
fileSystems:
  /home: { device: /persist/home, fsType: none, options: [bind] }
persistence:
  /persist:
    directories: [/var/lib/nixos]
    files:
      - { file: /etc/ssh/ssh_host_ed25519_key, how: symlink }
      - /etc/adjtime
sops:
  ageKeyFile: /var/lib/sops-nix/key.txt
disko:
  disk: main
  partition: persist
`

func TestLoad(t *testing.T) {
	Convey("Loading declarations:", t, func() {
		Convey("a full declaration parses", func() {
			decl := mustLoad("full.yaml", fullDeclaration)
			So(decl.Source, ShouldEqual, "full.yaml")
			So(*decl.Enable, ShouldBeTrue)
			So(*decl.MachineIdMode, ShouldEqual, "bindmount")
			So(decl.ExtraBindMounts["/var/lib/private"].NeededForBoot, ShouldBeTrue)
			So(decl.ExtraBindMounts["/var/log"].NeededForBoot, ShouldBeFalse)
			So(*decl.FileSystems["/home"].Device, ShouldEqual, "/persist/home")
			So(decl.FileSystems["/home"].Options, ShouldResemble, []string{"bind"})
			So(*decl.Sops.AgeKeyFile, ShouldEqual, "/var/lib/sops-nix/key.txt")
			So(*decl.Disko.Partition, ShouldEqual, "persist")

			Convey("with bare file strings meaning symlinks", func() {
				So(decl.Persistence["/persist"].Files, ShouldResemble, []FileDecl{
					{File: "/etc/ssh/ssh_host_ed25519_key", How: "symlink"},
					{File: "/etc/adjtime", How: "symlink"},
				})
			})
		})

		Convey("unsaid scalars stay unset", func() {
			decl := mustLoad("partial.yaml", "extraBindMounts: {/srv: {}}\n")
			So(decl.Enable, ShouldBeNil)
			So(decl.PersistentStoragePath, ShouldBeNil)
			So(decl.Sops, ShouldBeNil)
		})

		Convey("empty documents are fine", func() {
			decl, err := Load("empty.yaml", strings.NewReader(""))
			So(err, ShouldBeNil)
			So(decl.Source, ShouldEqual, "empty.yaml")
		})

		Convey("unknown keys are rejected", func() {
			_, err := Load("typo.yaml", strings.NewReader("persistantStoragePath: /persist\n"))
			So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigUnreadable)
		})

		Convey("malformed yaml is rejected", func() {
			_, err := Load("bad.yaml", strings.NewReader("enable: [\n"))
			So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigUnreadable)
			So(err.Error(), ShouldContainSubstring, "bad.yaml")
		})

		Convey("files on disk load too", func() {
			testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
				pth := filepath.Join(tmpDir.String(), "a.yaml")
				So(os.WriteFile(pth, []byte("enable: true\n"), 0644), ShouldBeNil)
				decls, err := LoadFiles([]string{pth})
				So(err, ShouldBeNil)
				So(decls, ShouldHaveLength, 1)
				So(*decls[0].Enable, ShouldBeTrue)

				_, err = LoadFiles([]string{pth, filepath.Join(tmpDir.String(), "missing.yaml")})
				So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigUnreadable)
			})
		})
	})
}

func TestMerge(t *testing.T) {
	Convey("Merging declarations:", t, func() {
		a := mustLoad("a.yaml", `
enable: true
extraBindMounts:
  /var/log: {}
fileSystems:
  /home: { device: /persist/home, fsType: none, options: [bind] }
persistence:
  /persist:
    directories: [/var/lib/nixos]
    files: [/etc/adjtime]
`)
		b := mustLoad("b.yaml", `
enable: true
persistentStoragePath: /persist
extraBindMounts:
  /var/log: { neededForBoot: true }
  /srv: {}
fileSystems:
  /home: { options: [x-gvfs-hide, bind] }
persistence:
  /persist:
    directories: [/var/lib/bluetooth, /var/lib/nixos]
    files:
      - { file: /etc/adjtime, inInitrd: true }
sops: {}
`)

		Convey("unions lists and maps, ORs the additive booleans", func() {
			merged, err := Merge(a, b)
			So(err, ShouldBeNil)
			So(*merged.Enable, ShouldBeTrue)
			So(*merged.PersistentStoragePath, ShouldEqual, "/persist")
			So(merged.ExtraBindMounts, ShouldResemble, map[string]BindMountDecl{
				"/var/log": {NeededForBoot: true},
				"/srv":     {},
			})
			So(*merged.FileSystems["/home"].Device, ShouldEqual, "/persist/home")
			So(merged.FileSystems["/home"].Options, ShouldResemble, []string{"bind", "x-gvfs-hide"})
			So(merged.Persistence["/persist"].Directories, ShouldResemble, []string{"/var/lib/bluetooth", "/var/lib/nixos"})
			So(merged.Persistence["/persist"].Files, ShouldResemble, []FileDecl{
				{File: "/etc/adjtime", How: "symlink", InInitrd: true},
			})
			So(merged.Sops, ShouldNotBeNil)
			So(merged.Disko, ShouldBeNil)
			So(merged.Source, ShouldEqual, "a.yaml, b.yaml")
		})

		Convey("doesn't care about argument order", func() {
			ab, err := Merge(a, b)
			So(err, ShouldBeNil)
			ba, err := Merge(b, a)
			So(err, ShouldBeNil)
			So(ba, ShouldResemble, ab)
		})

		Convey("doesn't mutate its inputs", func() {
			_, err := Merge(a, b)
			So(err, ShouldBeNil)
			So(a.FileSystems["/home"].Options, ShouldResemble, []string{"bind"})
			So(a.ExtraBindMounts["/var/log"].NeededForBoot, ShouldBeFalse)
		})

		Convey("merging nothing gives an empty declaration", func() {
			merged, err := Merge()
			So(err, ShouldBeNil)
			So(merged, ShouldResemble, &Declaration{})
		})

		Convey("disagreeing scalars are all reported together", func() {
			c := mustLoad("c.yaml", `
enable: false
persistentStoragePath: /state
persistence:
  /persist:
    files: [{ file: /etc/adjtime, how: bindmount }]
`)
			_, err := Merge(a, b, c)
			So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigConflict)
			So(err.Error(), ShouldContainSubstring, `enable is declared with conflicting values "false", "true"`)
			So(err.Error(), ShouldContainSubstring, `persistentStoragePath is declared with conflicting values "/persist", "/state"`)
			So(err.Error(), ShouldContainSubstring, `persistence./persist.files./etc/adjtime.how is declared with conflicting values "bindmount", "symlink"`)

			Convey("with the same message in any order", func() {
				_, err2 := Merge(c, b, a)
				So(err2.Error(), ShouldEqual, err.Error())
			})
		})

		Convey("path keys are compared after cleaning", func() {
			c := mustLoad("c.yaml", `
fileSystems:
  /srv: { device: /persist/srv, fsType: none, options: [bind] }
  /srv/: { device: /dev/sdb1, fsType: ext4 }
persistence:
  /persist/:
    directories: [/var/lib/nixos/, /var/lib//nixos]
    files:
      - { file: /etc/foo, how: symlink }
      - { file: /etc//foo, how: bindmount }
`)
			_, err := Merge(c)
			So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigConflict)
			So(err.Error(), ShouldContainSubstring, `fileSystems./srv.device is declared with conflicting values "/dev/sdb1", "/persist/srv"`)
			So(err.Error(), ShouldContainSubstring, `fileSystems./srv.fsType is declared with conflicting values "ext4", "none"`)
			So(err.Error(), ShouldContainSubstring, `persistence./persist.files./etc/foo.how is declared with conflicting values "bindmount", "symlink"`)

			Convey("and agreeing spellings fold together", func() {
				d := mustLoad("d.yaml", `
extraBindMounts:
  /srv/: { neededForBoot: true }
persistence:
  /persist/:
    directories: [/var/lib/nixos/]
    files: [/etc//adjtime]
`)
				merged, err := Merge(a, b, d)
				So(err, ShouldBeNil)
				So(merged.ExtraBindMounts["/srv"].NeededForBoot, ShouldBeTrue)
				So(merged.ExtraBindMounts, ShouldNotContainKey, "/srv/")
				So(merged.Persistence, ShouldNotContainKey, "/persist/")
				So(merged.Persistence["/persist"].Directories, ShouldResemble, []string{"/var/lib/bluetooth", "/var/lib/nixos"})
				So(merged.Persistence["/persist"].Files, ShouldResemble, []FileDecl{
					{File: "/etc/adjtime", How: "symlink", InInitrd: true},
				})
			})
		})

		Convey("three-way disagreements list every value", func() {
			x := &Declaration{InstallMountPoint: strPtr("/mnt")}
			y := &Declaration{InstallMountPoint: strPtr("/target")}
			z := &Declaration{InstallMountPoint: strPtr("/a")}
			_, err := Merge(x, y, z)
			So(err.Error(), ShouldContainSubstring, `installMountPoint is declared with conflicting values "/a", "/mnt", "/target"`)
			_, err2 := Merge(y, z, x)
			So(err2.Error(), ShouldEqual, err.Error())
		})
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	Convey("Resolving declarations:", t, func() {
		Convey("defaults apply when nothing is said", func() {
			os.Unsetenv(EnvPersistPath)
			os.Unsetenv(EnvInstallMountPoint)
			cfg, err := Resolve(ctx, nil, Overrides{}, nil)
			So(err, ShouldBeNil)
			So(cfg.Enable, ShouldBeFalse)
			So(cfg.PersistentStoragePath, ShouldResemble, p("/persist"))
			So(cfg.InstallMountPoint, ShouldResemble, p("/mnt"))
			So(cfg.MachineIdMode, ShouldEqual, persistgen.Method_Symlink)
			So(cfg.FileSystems, ShouldBeEmpty)
			So(cfg.Persistence, ShouldBeEmpty)
			So(cfg.Sops, ShouldBeNil)
			So(cfg.Disko, ShouldBeNil)
		})

		Convey("precedence is overrides, declarations, environment", func() {
			os.Setenv(EnvPersistPath, "/from-env")
			os.Setenv(EnvInstallMountPoint, "/target-env")
			defer os.Unsetenv(EnvPersistPath)
			defer os.Unsetenv(EnvInstallMountPoint)

			cfg, err := Resolve(ctx, nil, Overrides{}, nil)
			So(err, ShouldBeNil)
			So(cfg.PersistentStoragePath, ShouldResemble, p("/from-env"))
			So(cfg.InstallMountPoint, ShouldResemble, p("/target-env"))

			decl := &Declaration{PersistentStoragePath: strPtr("/from-decl")}
			cfg, err = Resolve(ctx, decl, Overrides{}, nil)
			So(err, ShouldBeNil)
			So(cfg.PersistentStoragePath, ShouldResemble, p("/from-decl"))

			cfg, err = Resolve(ctx, decl, Overrides{PersistentStoragePath: strPtr("/from-flag"), Enable: boolPtr(true)}, nil)
			So(err, ShouldBeNil)
			So(cfg.PersistentStoragePath, ShouldResemble, p("/from-flag"))
			So(cfg.Enable, ShouldBeTrue)
		})

		Convey("a full declaration fills in the generated entries", func() {
			cfg, err := Resolve(ctx, mustLoad("full.yaml", fullDeclaration), Overrides{}, nil)
			So(err, ShouldBeNil)

			So(cfg.ExtraBindMounts, ShouldResemble, []persistgen.BindMountSpec{
				{Path: p("/var/lib/private"), NeededForBoot: true},
				{Path: p("/var/lib/sops-nix"), NeededForBoot: true},
				{Path: p("/var/log"), NeededForBoot: false},
			})
			So(cfg.FileSystems, ShouldResemble, []persistgen.MountEntry{
				{Name: p("/home"), Device: "/persist/home", FsType: "none", Options: []string{"bind"}},
				{Name: p("/var/lib/private"), Device: "/persist/var/lib/private", FsType: "none", Options: []string{"bind"}},
				{Name: p("/var/lib/sops-nix"), Device: "/persist/var/lib/sops-nix", FsType: "none", Options: []string{"bind"}},
				{Name: p("/var/log"), Device: "/persist/var/log", FsType: "none", Options: []string{"bind"}},
			})
			So(cfg.Persistence[p("/persist")], ShouldResemble, persistgen.PreserveAtConfig{
				Directories: []fs.AbsolutePath{p("/var/lib/nixos")},
				Files: []persistgen.PreservedFileRecord{
					{File: p("/etc/adjtime"), How: persistgen.Method_Symlink},
					{File: p("/etc/machine-id"), How: persistgen.Method_BindMount, InInitrd: true},
					{File: p("/etc/ssh/ssh_host_ed25519_key"), How: persistgen.Method_Symlink},
				},
			})
			So(cfg.Sops, ShouldResemble, &persistgen.SopsConfig{AgeKeyFile: p("/var/lib/sops-nix/key.txt")})
			So(cfg.Disko, ShouldResemble, &persistgen.DiskoConfig{Disk: "main", Partition: "persist"})
		})

		Convey("disabled means nothing is generated", func() {
			decl := mustLoad("full.yaml", fullDeclaration)
			cfg, err := Resolve(ctx, decl, Overrides{Enable: boolPtr(false)}, nil)
			So(err, ShouldBeNil)
			So(cfg.FileSystems, ShouldResemble, []persistgen.MountEntry{
				{Name: p("/home"), Device: "/persist/home", FsType: "none", Options: []string{"bind"}},
			})
			So(cfg.Persistence[p("/persist")].Files, ShouldHaveLength, 2)
			So(cfg.ExtraBindMounts, ShouldHaveLength, 2)
		})

		Convey("sops without a key file gets the default one", func() {
			decl := &Declaration{Enable: boolPtr(true), Sops: &SopsDecl{}}
			cfg, err := Resolve(ctx, decl, Overrides{}, nil)
			So(err, ShouldBeNil)
			So(cfg.Sops.AgeKeyFile, ShouldResemble, p(DefaultSopsAgeKeyFile))
			So(cfg.ExtraBindMounts, ShouldResemble, []persistgen.BindMountSpec{{Path: p("/var/lib/sops-nix"), NeededForBoot: true}})
		})

		Convey("declared mounts win over both host mounts and generated ones", func() {
			host := []persistgen.MountEntry{
				{Name: p("/"), Device: "none", FsType: "tmpfs", Options: []string{"mode=755"}},
				{Name: p("/srv"), Device: "/dev/sdb1", FsType: "ext4"},
			}
			decl := &Declaration{
				Enable:          boolPtr(true),
				ExtraBindMounts: map[string]BindMountDecl{"/srv": {}},
				FileSystems: map[string]FileSystemDecl{
					"/srv": {Device: strPtr("/persist/srv"), FsType: strPtr("none"), Options: []string{"bind", "ro"}},
				},
			}
			cfg, err := Resolve(ctx, decl, Overrides{}, host)
			So(err, ShouldBeNil)
			So(cfg.FileSystems, ShouldResemble, []persistgen.MountEntry{
				{Name: p("/"), Device: "none", FsType: "tmpfs", Options: []string{"mode=755"}},
				{Name: p("/srv"), Device: "/persist/srv", FsType: "none", Options: []string{"bind", "ro"}},
			})
		})

		Convey("every problem is reported at once", func() {
			decl := &Declaration{
				Enable:                boolPtr(true),
				PersistentStoragePath: strPtr("persist"),
				InstallMountPoint:     strPtr("/mnt\n/evil"),
				MachineIdMode:         strPtr("hardlink"),
				ExtraBindMounts:       map[string]BindMountDecl{"var/log": {}},
				FileSystems:           map[string]FileSystemDecl{"/home": {FsType: strPtr("none")}},
				Persistence: map[string]PersistenceDecl{
					"/persist": {Files: []FileDecl{{File: "", How: "symlink"}, {File: "/etc/x", How: "copy"}}},
				},
				Disko: &DiskoDecl{Disk: strPtr("main")},
			}
			_, err := Resolve(ctx, decl, Overrides{}, nil)
			So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigInvalid)
			msg := err.Error()
			So(msg, ShouldContainSubstring, "persistentStoragePath")
			So(msg, ShouldContainSubstring, "installMountPoint: must not contain control characters")
			So(msg, ShouldContainSubstring, "machineIdMode: must be one of")
			So(msg, ShouldContainSubstring, "extraBindMounts.var/log")
			So(msg, ShouldContainSubstring, "fileSystems./home.device: is required")
			So(msg, ShouldContainSubstring, "persistence./persist.files[0].file: is required")
			So(msg, ShouldContainSubstring, "persistence./persist.files[1].how: must be one of")
			So(msg, ShouldContainSubstring, "disko.partition: is required")
		})

		Convey("two spellings of one mount point are an error", func() {
			decl := &Declaration{
				FileSystems: map[string]FileSystemDecl{
					"/srv":  {Device: strPtr("/persist/srv"), FsType: strPtr("none"), Options: []string{"bind"}},
					"/srv/": {Device: strPtr("/dev/sdb1"), FsType: strPtr("ext4")},
				},
			}
			for i := 0; i < 20; i++ {
				_, err := Resolve(ctx, decl, Overrides{}, nil)
				So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigInvalid)
				So(err.Error(), ShouldContainSubstring, "fileSystems./srv/: same mount point as fileSystems./srv")
			}
		})

		Convey("one file preserved two ways is an error", func() {
			decl := &Declaration{
				Persistence: map[string]PersistenceDecl{
					"/persist": {Files: []FileDecl{
						{File: "/etc/foo", How: "symlink"},
						{File: "/etc//foo", How: "bindmount"},
					}},
				},
			}
			_, err := Resolve(ctx, decl, Overrides{}, nil)
			So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigInvalid)
			So(err.Error(), ShouldContainSubstring, "persistence./persist.files: declared both as symlink and as bindmount")
		})

		Convey("repeated entries under different spellings are kept once", func() {
			decl := &Declaration{
				Persistence: map[string]PersistenceDecl{
					"/persist": {
						Directories: []string{"/var/lib/nixos", "/var/lib/nixos/"},
						Files: []FileDecl{
							{File: "/etc/bar", How: "symlink"},
							{File: "/etc/bar/", How: "symlink", InInitrd: true},
						},
					},
					"/persist/": {Directories: []string{"/var//lib/nixos"}},
				},
			}
			first, err := Resolve(ctx, decl, Overrides{}, nil)
			So(err, ShouldBeNil)
			So(first.Persistence, ShouldResemble, map[fs.AbsolutePath]persistgen.PreserveAtConfig{
				p("/persist"): {
					Directories: []fs.AbsolutePath{p("/var/lib/nixos")},
					Files:       []persistgen.PreservedFileRecord{{File: p("/etc/bar"), How: persistgen.Method_Symlink, InInitrd: true}},
				},
			})
			for i := 0; i < 20; i++ {
				again, err := Resolve(ctx, decl, Overrides{}, nil)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, first)
			}
		})

		Convey("persistent storage can't be the root", func() {
			_, err := Resolve(ctx, &Declaration{PersistentStoragePath: strPtr("/")}, Overrides{}, nil)
			So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigInvalid)
			So(err.Error(), ShouldContainSubstring, "must not be the root directory")
		})

		Convey("a machine id declared against machineIdMode is an error", func() {
			decl := &Declaration{
				Enable:        boolPtr(true),
				MachineIdMode: strPtr("symlink"),
				Persistence: map[string]PersistenceDecl{
					"/persist": {Files: []FileDecl{{File: "/etc/machine-id", How: "bindmount"}}},
				},
			}
			_, err := Resolve(ctx, decl, Overrides{}, nil)
			So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigInvalid)
			So(err.Error(), ShouldContainSubstring, "/etc/machine-id is also declared with how=bindmount")
		})
	})
}

func TestFstabImport(t *testing.T) {
	ctx := context.Background()
	Convey("Importing fstab:", t, func() {
		Convey("entries become mount entries, swap is skipped", func() {
			entries, err := ParseFstab(ctx, "fstab", strings.NewReader(`
# comment
none                  /                  tmpfs  defaults,mode=755  0 0
/dev/disk/by-label/p  /persist           ext4   noatime            0 2
/persist/var/log      /var/log           none   bind               0 0
/dev/sda3             none               swap   sw                 0 0
`))
			So(err, ShouldBeNil)
			So(entries, ShouldResemble, []persistgen.MountEntry{
				{Name: p("/"), Device: "none", FsType: "tmpfs", Options: []string{"defaults", "mode=755"}},
				{Name: p("/persist"), Device: "/dev/disk/by-label/p", FsType: "ext4", Options: []string{"noatime"}},
				{Name: p("/var/log"), Device: "/persist/var/log", FsType: "none", Options: []string{"bind"}},
			})
		})

		Convey("missing files are unreadable config", func() {
			_, err := ImportFstab(ctx, "/nonexistent/persistgen/fstab")
			So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigUnreadable)
		})
	})
}

func TestEnvironment(t *testing.T) {
	Convey("Declaration paths from the environment:", t, func() {
		os.Setenv(EnvConfig, "/etc/persistgen/a.yaml::/etc/persistgen/b.yaml")
		defer os.Unsetenv(EnvConfig)
		So(GetDeclarationPaths(), ShouldResemble, []string{"/etc/persistgen/a.yaml", "/etc/persistgen/b.yaml"})

		os.Unsetenv(EnvConfig)
		So(GetDeclarationPaths(), ShouldBeEmpty)
	})
}
