package fs

import (
	"github.com/polydawn/refmt/obj/atlas"
)

// Paths serialize as their plain string form.
var AbsolutePath_AtlasEntry = atlas.BuildEntry(AbsolutePath{}).Transform().
	TransformMarshal(atlas.MakeMarshalTransformFunc(
		func(x AbsolutePath) (string, error) {
			return x.String(), nil
		})).
	TransformUnmarshal(atlas.MakeUnmarshalTransformFunc(
		func(x string) (AbsolutePath, error) {
			return ParseAbsolutePath(x)
		})).
	Complete()
