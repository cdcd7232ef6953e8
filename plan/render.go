package plan

import (
	"bytes"
	"context"
	"os"
	"path"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	"github.com/rs/zerolog"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/util"

	"github.com/polydawn/persistgen"
)

/*
	Write every artifact of the plan into the given filesystem, plus the
	plan itself as `plan.json`.

	Existing files are overwritten; nothing else in the directory is touched.
	The post-mount script is written executable.
*/
func Render(ctx context.Context, p *Plan, out billy.Filesystem) error {
	log := zerolog.Ctx(ctx)
	for _, a := range p.Artifacts {
		perm := os.FileMode(0644)
		if a.Executable {
			perm = 0755
		}
		if err := writeFile(out, a.Path, []byte(a.Content), perm); err != nil {
			return err
		}
		log.Info().Str("artifact", out.Join(out.Root(), a.Path)).Msg("wrote artifact")
	}
	planJson, err := Marshal(p)
	if err != nil {
		return err
	}
	return writeFile(out, ArtifactPlan, planJson, 0644)
}

// Marshal the plan as indented JSON.
func Marshal(p *Plan) ([]byte, error) {
	var buf bytes.Buffer
	marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{Line: []byte{'\n'}, Indent: []byte{'\t'}}, &buf, Atlas)
	if err := marshaller.Marshal(p); err != nil {
		return nil, Errorf(persistgen.ErrOutputUnwritable, "cannot serialize plan: %s", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func writeFile(out billy.Filesystem, name string, body []byte, perm os.FileMode) error {
	if dir := path.Dir(name); dir != "." {
		if err := out.MkdirAll(dir, 0755); err != nil {
			return Errorf(persistgen.ErrOutputUnwritable, "cannot create %s: %s", dir, err)
		}
	}
	if err := util.WriteFile(out, name, body, perm); err != nil {
		return Errorf(persistgen.ErrOutputUnwritable, "cannot write %s: %s", name, err)
	}
	return nil
}
