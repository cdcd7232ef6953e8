package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/rs/zerolog"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/src-d/go-billy.v4/osfs"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/config"
	"github.com/polydawn/persistgen/plan"
)

/*
	Output serialization formats
*/
const (
	FmtJson = "json"
	FmtDumb = "dumb"
)

type baseCLI struct {
	Format      string   // Output api format, eg. json
	LogLevel    string   // zerolog level name
	Configs     []string // Declaration files; falls back to $PERSISTGEN_CONFIG
	Fstab       string   // Optional fstab to import host mounts from
	PersistPath string   // Override for persistentStoragePath
	MountPoint  string   // Override for installMountPoint
	Enable      *bool    // Override for enable; nil if not given
	RenderCLI   struct {
		OutDir string // Directory to write artifacts into
	}
}

/*
	A bool flag which remembers whether it was given at all,
	so `--enable`, `--no-enable`, and silence are three different things.
*/
type optionalBool struct {
	slot **bool
}

func (x optionalBool) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*x.slot = &b
	return nil
}

func (x optionalBool) String() string {
	if *x.slot == nil {
		return ""
	}
	return strconv.FormatBool(**x.slot)
}

func (optionalBool) IsBoolFlag() bool { return true }

/*
	Blocks until a sigint is received, then calls cancel.
	Returns without cancelling if ctx is done first.
*/
func CancelOnInterrupt(ctx context.Context, cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	defer signal.Stop(signalChan)
	select {
	case <-signalChan:
		cancel()
	case <-ctx.Done():
	}
}

func main() {
	ctx := context.Background()
	exitCode := Main(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) persistgen.ExitCode {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go CancelOnInterrupt(ctx, cancel)

	cli := baseCLI{}

	app := kingpin.New("persistgen", "Prepare persistent storage for hosts with an ephemeral root")
	app.HelpFlag.Short('h')

	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)

	app.Flag("format", "Output api format").
		Default(FmtDumb).
		EnumVar(&cli.Format, FmtJson, FmtDumb)
	app.Flag("log-level", "Log verbosity (logs go to stderr)").
		Default(zerolog.WarnLevel.String()).
		EnumVar(&cli.LogLevel,
			zerolog.TraceLevel.String(), zerolog.DebugLevel.String(), zerolog.InfoLevel.String(),
			zerolog.WarnLevel.String(), zerolog.ErrorLevel.String())
	app.Flag("config", "Declaration file (repeatable) [default: $"+config.EnvConfig+"]").
		Short('c').
		StringsVar(&cli.Configs)
	app.Flag("fstab", "Import the host's existing mounts from this fstab").
		StringVar(&cli.Fstab)
	app.Flag("persist-path", "Where persistent storage is mounted on the booted host").
		StringVar(&cli.PersistPath)
	app.Flag("mount-point", "Where the installer assembles the target system").
		StringVar(&cli.MountPoint)
	app.Flag("enable", "Turn persistence on or off, regardless of declarations").
		SetValue(optionalBool{&cli.Enable})

	appDerive := app.Command("derive", "print the directories that must exist before installing")
	appScript := app.Command("script", "print the post-mount script")
	appFstab := app.Command("fstab", "print fstab lines for the extra bind mounts")
	appTmpfiles := app.Command("tmpfiles", "print tmpfiles.d rules for persistent storage")
	appUnits := app.Command("units", "print systemd drop-ins")
	appPlan := app.Command("plan", "print the whole plan")
	appRender := app.Command("render", "write every artifact into a directory")
	appRender.Arg("outdir", "Directory to write into (created if missing)").
		Required().
		StringVar(&cli.RenderCLI.OutDir)

	var termErr error
	app.Terminate(func(status int) {
		termErr = fmt.Errorf("parsing error: %d\n", status)
	})
	cmd, err := app.Parse(args[1:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return persistgen.ExitUsage
	}
	if termErr != nil {
		fmt.Fprintln(stderr, termErr)
		return persistgen.ExitUsage
	}

	ctx = setupLogger(ctx, cli, stderr)

	p, err := loadPlan(ctx, cli)
	if err == nil {
		switch cmd {
		case appDerive.FullCommand():
			err = emitDerive(cli.Format, p, stdout)
		case appScript.FullCommand():
			err = emitArtifacts(cli.Format, p, stdout, plan.ArtifactScript)
		case appFstab.FullCommand():
			err = emitArtifacts(cli.Format, p, stdout, plan.ArtifactFstab)
		case appTmpfiles.FullCommand():
			err = emitArtifacts(cli.Format, p, stdout, plan.ArtifactTmpfiles)
		case appUnits.FullCommand():
			err = emitUnits(cli.Format, p, stdout)
		case appPlan.FullCommand():
			err = emitPlan(cli.Format, p, stdout)
		case appRender.FullCommand():
			err = executeRender(ctx, cli, p, stdout)
		default:
			panic(fmt.Errorf("persistgen: unhandled command %q", cmd))
		}
	}
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("category", fmt.Sprintf("%v", Category(err))).Msg("command failed")
		SerializeResult(cli.Format, nil, err, stdout, stderr)
		return persistgen.ExitCodeFor(Category(err))
	}
	return persistgen.ExitSuccess
}

func setupLogger(ctx context.Context, cli baseCLI, stderr io.Writer) context.Context {
	level, err := zerolog.ParseLevel(cli.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	var w io.Writer = stderr
	if cli.Format == FmtDumb {
		w = zerolog.ConsoleWriter{Out: stderr, NoColor: true}
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return logger.WithContext(ctx)
}

/*
	Load, merge, and resolve the declarations named on the command line
	(or in the environment), and build the plan.
*/
func loadPlan(ctx context.Context, cli baseCLI) (*plan.Plan, error) {
	paths := cli.Configs
	if len(paths) == 0 {
		paths = config.GetDeclarationPaths()
	}
	decls, err := config.LoadFiles(paths)
	if err != nil {
		return nil, err
	}
	decl, err := config.Merge(decls...)
	if err != nil {
		return nil, err
	}
	var hostMounts []persistgen.MountEntry
	if cli.Fstab != "" {
		hostMounts, err = config.ImportFstab(ctx, cli.Fstab)
		if err != nil {
			return nil, err
		}
	}
	overrides := config.Overrides{Enable: cli.Enable}
	if cli.PersistPath != "" {
		overrides.PersistentStoragePath = &cli.PersistPath
	}
	if cli.MountPoint != "" {
		overrides.InstallMountPoint = &cli.MountPoint
	}
	cfg, err := config.Resolve(ctx, decl, overrides, hostMounts)
	if err != nil {
		return nil, err
	}
	return plan.Build(ctx, cfg)
}

func executeRender(ctx context.Context, cli baseCLI, p *plan.Plan, stdout io.Writer) error {
	if err := os.MkdirAll(cli.RenderCLI.OutDir, 0755); err != nil {
		return Errorf(persistgen.ErrOutputUnwritable, "cannot create output directory: %s", err)
	}
	if err := plan.Render(ctx, p, osfs.New(cli.RenderCLI.OutDir)); err != nil {
		return err
	}
	if cli.Format == FmtDumb {
		for _, a := range p.Artifacts {
			fmt.Fprintln(stdout, a.Path)
		}
		fmt.Fprintln(stdout, plan.ArtifactPlan)
		return nil
	}
	return emitPlan(cli.Format, p, stdout)
}
