package client

import (
	"context"
	"os"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/api"
	"github.com/polydawn/persistgen/fs"
	"github.com/polydawn/persistgen/testutil"
)

// Writes an executable standing in for persistgen: it records its args, prints `stdout`, and exits `code`.
func fakePersistgen(dir fs.AbsolutePath, stdout string, code string) string {
	bin := dir.String() + "/persistgen"
	body := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" > " + dir.String() + "/args\n"
	if stdout != "" {
		body += "cat <<'EOF'\n" + stdout + "\nEOF\n"
	}
	body += "echo 'some logs' >&2\n" +
		"exit " + code + "\n"
	testutil.WriteFixture(fs.MustAbsolutePath(bin), body)
	if err := os.Chmod(bin, 0755); err != nil {
		panic(err)
	}
	return bin
}

const planEvent = `{"result":{"plan":{"enable":true,"persistentStoragePath":"/persist","installMountPoint":"/mnt","directories":["/etc","/var/lib/sops-nix"],"bindMountDirectories":["/var/lib/sops-nix"],"artifacts":[{"path":"fstab","content":"x"}]}}}`

func TestPlanArgs(t *testing.T) {
	Convey("Plan args:", t, func() {
		Convey("only what's given is passed", func() {
			So(PlanArgs(Request{}), ShouldResemble, []string{"--format=json", "plan"})
		})
		Convey("everything given is passed", func() {
			enable := false
			So(PlanArgs(Request{
				Configs:     []string{"/etc/a.yaml", "/etc/b.yaml"},
				Fstab:       "/etc/fstab",
				PersistPath: "/state",
				MountPoint:  "/target",
				Enable:      &enable,
			}), ShouldResemble, []string{
				"--format=json",
				"--config=/etc/a.yaml",
				"--config=/etc/b.yaml",
				"--fstab=/etc/fstab",
				"--persist-path=/state",
				"--mount-point=/target",
				"--no-enable",
				"plan",
			})
		})
	})
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	Convey("Exec client:", t, testutil.Requires(
		testutil.RequiresExecutable("sh"),
		testutil.RequiresEnvBlank("PERSISTGEN_TEST_SKIP_EXEC"),
		func() {
			testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
				Convey("a plan comes back on the happy path", func() {
					bin := fakePersistgen(tmpDir, planEvent, "0")
					p, err := Client{Bin: bin}.Plan(ctx, Request{Configs: []string{"/etc/host.yaml"}})
					So(err, ShouldBeNil)
					So(p.Enable, ShouldBeTrue)
					So(fs.AbsolutePaths(p.Directories).Strings(), ShouldResemble, []string{"/etc", "/var/lib/sops-nix"})
					So(p.Artifacts, ShouldHaveLength, 1)

					args, err := os.ReadFile(tmpDir.String() + "/args")
					So(err, ShouldBeNil)
					So(string(args), ShouldEqual, "--format=json\n--config=/etc/host.yaml\nplan\n")
				})

				Convey("a categorized error comes back as itself", func() {
					bin := fakePersistgen(tmpDir, `{"result":{"error":{"category":"persistgen-config-invalid","msg":"persistentStoragePath: nope"}}}`, "2")
					_, err := Client{Bin: bin}.Plan(ctx, Request{})
					So(err, ShouldResemble, &api.Error{CategoryStr: "persistgen-config-invalid", MsgStr: "persistentStoragePath: nope"})
					So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigInvalid)
				})

				Convey("a silent failure is categorized by its exit code", func() {
					bin := fakePersistgen(tmpDir, "", "3")
					_, err := Client{Bin: bin}.Plan(ctx, Request{})
					So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigConflict)
					So(err.Error(), ShouldContainSubstring, "some logs")
				})

				Convey("an exit code disagreeing with the message trusts the exit code", func() {
					bin := fakePersistgen(tmpDir, `{"result":{"error":{"category":"persistgen-config-invalid","msg":"nope"}}}`, "3")
					_, err := Client{Bin: bin}.Plan(ctx, Request{})
					So(errcat.Category(err), ShouldEqual, persistgen.ErrConfigConflict)
				})

				Convey("garbage on stdout is a breakdown", func() {
					bin := fakePersistgen(tmpDir, "not json", "0")
					_, err := Client{Bin: bin}.Plan(ctx, Request{})
					So(errcat.Category(err), ShouldEqual, persistgen.ErrRPCBreakdown)
				})

				Convey("success without a plan is a breakdown", func() {
					bin := fakePersistgen(tmpDir, `{"result":{}}`, "0")
					_, err := Client{Bin: bin}.Plan(ctx, Request{})
					So(errcat.Category(err), ShouldEqual, persistgen.ErrRPCBreakdown)
					So(err.Error(), ShouldContainSubstring, "no clear result")
				})
			})
		},
	))

	Convey("Exec client without a binary:", t, func() {
		_, err := Client{Bin: "/nonexistent/persistgen"}.Plan(ctx, Request{})
		So(errcat.Category(err), ShouldEqual, persistgen.ErrRPCBreakdown)
		So(strings.Contains(err.Error(), "failed to start"), ShouldBeTrue)
	})
}
