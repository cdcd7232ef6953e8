package client

/*
	Everything a plan request can say; mirrors persistgen's global flags.
	Zero values mean "not given", leaving the decision to the declarations.
*/
type Request struct {
	Configs     []string
	Fstab       string
	PersistPath string
	MountPoint  string
	Enable      *bool
}

func PlanArgs(req Request) []string {
	// Required args.
	args := []string{"--format=json"}

	// Giving this argument repeatedly forms a list in the persistgen CLI.
	for _, cfg := range req.Configs {
		args = append(args, "--config="+cfg)
	}

	// Overrides, if specified.
	//  (We could just pass 'em all even when emptystr, but let's be nice to readers of 'ps'.)
	if req.Fstab != "" {
		args = append(args, "--fstab="+req.Fstab)
	}
	if req.PersistPath != "" {
		args = append(args, "--persist-path="+req.PersistPath)
	}
	if req.MountPoint != "" {
		args = append(args, "--mount-point="+req.MountPoint)
	}
	// Bool flags don't take "=value"; it's --enable or --no-enable.
	switch {
	case req.Enable == nil:
	case *req.Enable:
		args = append(args, "--enable")
	default:
		args = append(args, "--no-enable")
	}

	return append(args, "plan")
}
