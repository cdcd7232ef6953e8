package main

import (
	"fmt"
	"io"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"

	"github.com/polydawn/persistgen/api"
	"github.com/polydawn/persistgen/plan"
)

// In json format, every command emits the same thing: the whole plan, as an api.Event.

func emitDerive(format string, p *plan.Plan, stdout io.Writer) error {
	if format == FmtJson {
		return emitPlan(format, p, stdout)
	}
	for _, dir := range p.Directories {
		fmt.Fprintln(stdout, dir)
	}
	return nil
}

// Artifacts that don't exist (empty fragments) print nothing.
func emitArtifacts(format string, p *plan.Plan, stdout io.Writer, path string) error {
	if format == FmtJson {
		return emitPlan(format, p, stdout)
	}
	if a, ok := p.Artifact(path); ok {
		fmt.Fprint(stdout, a.Content)
	}
	return nil
}

func emitUnits(format string, p *plan.Plan, stdout io.Writer) error {
	if format == FmtJson {
		return emitPlan(format, p, stdout)
	}
	for i, a := range p.ArtifactsUnder(plan.ArtifactUnitsDir) {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		fmt.Fprintf(stdout, "# %s\n", a.Path)
		fmt.Fprint(stdout, a.Content)
	}
	return nil
}

func emitPlan(format string, p *plan.Plan, stdout io.Writer) error {
	switch format {
	case FmtJson:
		SerializeResult(format, p, nil, stdout, nil)
	case FmtDumb:
		fmt.Fprintf(stdout, "enable: %t\n", p.Enable)
		fmt.Fprintf(stdout, "persistent storage path: %s\n", p.PersistentStoragePath)
		fmt.Fprintf(stdout, "install mount point: %s\n", p.InstallMountPoint)
		fmt.Fprintln(stdout, "directories:")
		for _, dir := range p.Directories {
			fmt.Fprintf(stdout, "  %s\n", dir)
		}
		fmt.Fprintln(stdout, "bind mounts:")
		for _, dir := range p.BindMountDirectories {
			fmt.Fprintf(stdout, "  %s\n", dir)
		}
		fmt.Fprintln(stdout, "artifacts:")
		for _, a := range p.Artifacts {
			fmt.Fprintf(stdout, "  %s\n", a.Path)
		}
	}
	return nil
}

func SerializeResult(format string, p *plan.Plan, resultErr error, stdout io.Writer, stderr io.Writer) {
	result := &api.Event_Result{
		Plan: p,
	}
	result.SetError(resultErr)
	ev := api.Event{Result: result}
	switch format {
	case FmtJson:
		marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{}, stdout, api.Atlas)
		err := marshaller.Marshal(&ev)
		if err != nil {
			panic(err)
		}
		fmt.Fprintln(stdout)
	case FmtDumb:
		if resultErr != nil {
			fmt.Fprintln(stderr, resultErr)
		}
	default:
		panic(fmt.Errorf("persistgen: invalid format %s", format))
	}
}
