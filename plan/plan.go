/*
	Assembles everything persistgen produces for one host into a Plan:
	the derived directory set, the post-mount script, and the host
	configuration fragments, each as a named artifact.

	A Plan can be serialized (see `Atlas`) or written out into a directory
	(see `Render`).
*/
package plan

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polydawn/persistgen/config"
	"github.com/polydawn/persistgen/derive"
	"github.com/polydawn/persistgen/fragments"
	"github.com/polydawn/persistgen/fs"
	"github.com/polydawn/persistgen/script"
)

// Artifact paths, relative to the render directory.
const (
	ArtifactScript   = "post-mount-hook.sh"
	ArtifactFstab    = "fstab"
	ArtifactTmpfiles = "tmpfiles.d/persistgen.conf"
	ArtifactSops     = "sops.yaml"
	ArtifactDisko    = "disko.yaml"
	ArtifactPlan     = "plan.json"

	// Drop-ins land under here, in their unit's ".d" directory.
	ArtifactUnitsDir = "systemd/"
)

type Plan struct {
	Enable                bool              `refmt:"enable"`
	PersistentStoragePath fs.AbsolutePath   `refmt:"persistentStoragePath"`
	InstallMountPoint     fs.AbsolutePath   `refmt:"installMountPoint"`
	Directories           []fs.AbsolutePath `refmt:"directories"`
	BindMountDirectories  []fs.AbsolutePath `refmt:"bindMountDirectories"`
	Artifacts             []Artifact        `refmt:"artifacts"` // Sorted by path.  Empty fragments are omitted.
}

type Artifact struct {
	Path       string `refmt:"path"`
	Executable bool   `refmt:"executable,omitempty"`
	Content    string `refmt:"content"`
}

/*
	Build the plan for a resolved config.

	A disabled config builds a plan with no directories and no artifacts.
*/
func Build(ctx context.Context, cfg *config.Config) (*Plan, error) {
	log := zerolog.Ctx(ctx)
	p := &Plan{
		Enable:                cfg.Enable,
		PersistentStoragePath: cfg.PersistentStoragePath,
		InstallMountPoint:     cfg.InstallMountPoint,
		Directories:           derive.Directories(cfg.FileSystems, cfg.Persistence, cfg.PersistentStoragePath, cfg.Enable),
		BindMountDirectories:  derive.BindMountDirs(cfg.FileSystems, cfg.PersistentStoragePath, cfg.Enable),
	}
	log.Debug().
		Int("directories", len(p.Directories)).
		Int("bindMounts", len(p.BindMountDirectories)).
		Msg("derived directory set")

	postMountScript := script.Synthesize(p.Directories, p.BindMountDirectories, cfg.InstallMountPoint, cfg.PersistentStoragePath, cfg.Enable)
	p.add(Artifact{Path: ArtifactScript, Executable: true, Content: postMountScript})
	p.add(Artifact{Path: ArtifactFstab, Content: fragments.Fstab(cfg)})
	p.add(Artifact{Path: ArtifactTmpfiles, Content: fragments.Tmpfiles(cfg)})
	for _, dropIn := range fragments.Units(cfg) {
		p.add(Artifact{Path: ArtifactUnitsDir + dropIn.Path(), Content: dropIn.String()})
	}
	sops, err := fragments.Sops(cfg)
	if err != nil {
		return nil, err
	}
	p.add(Artifact{Path: ArtifactSops, Content: string(sops)})
	disko, err := fragments.Disko(cfg, postMountScript)
	if err != nil {
		return nil, err
	}
	p.add(Artifact{Path: ArtifactDisko, Content: string(disko)})

	sort.Slice(p.Artifacts, func(i, j int) bool { return p.Artifacts[i].Path < p.Artifacts[j].Path })
	for _, a := range p.Artifacts {
		log.Debug().Str("artifact", a.Path).Int("bytes", len(a.Content)).Msg("planned artifact")
	}
	return p, nil
}

func (p *Plan) add(a Artifact) {
	if a.Content == "" {
		return
	}
	p.Artifacts = append(p.Artifacts, a)
}

// Look up an artifact by path.
func (p *Plan) Artifact(path string) (Artifact, bool) {
	for _, a := range p.Artifacts {
		if a.Path == path {
			return a, true
		}
	}
	return Artifact{}, false
}

// Every artifact whose path is under the given directory prefix, in order.
func (p *Plan) ArtifactsUnder(prefix string) []Artifact {
	var result []Artifact
	for _, a := range p.Artifacts {
		if strings.HasPrefix(a.Path, prefix) {
			result = append(result, a)
		}
	}
	return result
}
