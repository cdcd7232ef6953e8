package api

import (
	"github.com/polydawn/refmt/obj/atlas"

	"github.com/polydawn/persistgen/fs"
	"github.com/polydawn/persistgen/plan"
)

var Atlas = atlas.MustBuild(
	atlas.BuildEntry(Event{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Event_Result{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Error{}).StructMap().Autogenerate().Complete(),
	plan.Plan_AtlasEntry,
	plan.Artifact_AtlasEntry,
	fs.AbsolutePath_AtlasEntry,
)
