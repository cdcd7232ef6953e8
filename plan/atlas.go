package plan

import (
	"github.com/polydawn/refmt/obj/atlas"

	"github.com/polydawn/persistgen/fs"
)

var (
	Plan_AtlasEntry     = atlas.BuildEntry(Plan{}).StructMap().Autogenerate().Complete()
	Artifact_AtlasEntry = atlas.BuildEntry(Artifact{}).StructMap().Autogenerate().Complete()
)

var Atlas = atlas.MustBuild(
	Plan_AtlasEntry,
	Artifact_AtlasEntry,
	fs.AbsolutePath_AtlasEntry,
)
