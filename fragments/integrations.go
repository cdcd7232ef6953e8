package fragments

import (
	"bytes"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/yaml.v3"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/config"
	"github.com/polydawn/persistgen/fs"
)

const SshHostKeyPath = "/etc/ssh/ssh_host_ed25519_key"

type SopsOptions struct {
	Sops struct {
		Age struct {
			KeyFile     string   `yaml:"keyFile"`
			SshKeyPaths []string `yaml:"sshKeyPaths"`
		} `yaml:"age"`
		Gnupg struct {
			SshKeyPaths []string `yaml:"sshKeyPaths"`
		} `yaml:"gnupg"`
	} `yaml:"sops"`
}

/*
	Options for the sops integration: the age key is read from its (bind
	mounted) key file, and the host key used to derive it comes straight from
	persistent storage, since the ephemeral /etc isn't populated yet when
	secrets are decrypted at boot.  GnuPG is switched off.

	Returns nil when the host doesn't use sops.
*/
func Sops(cfg *config.Config) ([]byte, error) {
	if !cfg.Enable || cfg.Sops == nil {
		return nil, nil
	}
	var opts SopsOptions
	opts.Sops.Age.KeyFile = cfg.Sops.AgeKeyFile.String()
	opts.Sops.Age.SshKeyPaths = []string{fs.MustAbsolutePath(SshHostKeyPath).Under(cfg.PersistentStoragePath).String()}
	opts.Sops.Gnupg.SshKeyPaths = []string{}
	return marshalYaml("sops", opts)
}

/*
	Options for the disko integration: the post-mount script becomes the
	`postMountHook` of the partition holding persistent storage, so it runs
	right after disko mounts it during installation.

	Returns nil when the host doesn't use disko.
*/
func Disko(cfg *config.Config, postMountScript string) ([]byte, error) {
	if !cfg.Enable || cfg.Disko == nil {
		return nil, nil
	}
	opts := map[string]interface{}{
		"disko": map[string]interface{}{
			"devices": map[string]interface{}{
				"disk": map[string]interface{}{
					cfg.Disko.Disk: map[string]interface{}{
						"content": map[string]interface{}{
							"partitions": map[string]interface{}{
								cfg.Disko.Partition: map[string]interface{}{
									"content": map[string]interface{}{
										"postMountHook": postMountScript,
									},
								},
							},
						},
					},
				},
			},
		},
	}
	return marshalYaml("disko", opts)
}

func marshalYaml(what string, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, Errorf(persistgen.ErrOutputUnwritable, "cannot render %s options: %s", what, err)
	}
	if err := enc.Close(); err != nil {
		return nil, Errorf(persistgen.ErrOutputUnwritable, "cannot render %s options: %s", what, err)
	}
	return buf.Bytes(), nil
}
