package persistgen

/*
Categories for errors raised by persistgen.

Use these with `errcat.Errorf` at the raise site;
switch on `errcat.Category(err)` to handle them.
Every category has a corresponding exit code (see `ExitCodeFor`).
*/
type ErrorCategory string

const (
	ErrUsage            ErrorCategory = "persistgen-usage-error"       // Indicates some piece of user input to a command was invalid and unrecoverable.
	ErrConfigUnreadable ErrorCategory = "persistgen-config-unreadable" // Raised when a declaration file can't be opened or isn't parsable.
	ErrConfigInvalid    ErrorCategory = "persistgen-config-invalid"    // Raised when declarations parse, but describe something nonsensical (relative paths, unknown enums, etc).
	ErrConfigConflict   ErrorCategory = "persistgen-config-conflict"   // Raised when several declarations set the same scalar to different values.
	ErrOutputUnwritable ErrorCategory = "persistgen-output-unwritable" // Raised when rendered artifacts can't be written out.
	ErrRPCBreakdown     ErrorCategory = "persistgen-rpc-breakdown"     // Raised when running persistgen as a subprocess and it fails to start, dies, or says something unrecognizable.
)

type ExitCode int

const (
	ExitSuccess        ExitCode = 0
	ExitUsage          ExitCode = 1
	ExitConfigInvalid  ExitCode = 2
	ExitConfigConflict ExitCode = 3
	ExitIO             ExitCode = 4
	ExitPanic          ExitCode = 9
)

func ExitCodeFor(category interface{}) ExitCode {
	switch category {
	case nil:
		return ExitSuccess
	case ErrUsage:
		return ExitUsage
	case ErrConfigInvalid:
		return ExitConfigInvalid
	case ErrConfigConflict:
		return ExitConfigConflict
	case ErrConfigUnreadable, ErrOutputUnwritable:
		return ExitIO
	default:
		return ExitPanic
	}
}

/*
	The inverse of ExitCodeFor, for callers running persistgen as a
	subprocess.  ExitIO maps back to ErrOutputUnwritable, because the two
	categories sharing it can't be told apart by exit code alone; the
	result message says which it was.
*/
func CategoryForExitCode(code ExitCode) ErrorCategory {
	switch code {
	case ExitUsage:
		return ErrUsage
	case ExitConfigInvalid:
		return ErrConfigInvalid
	case ExitConfigConflict:
		return ErrConfigConflict
	case ExitIO:
		return ErrOutputUnwritable
	default:
		return ErrRPCBreakdown
	}
}
