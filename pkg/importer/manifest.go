package importer

import (
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/surveydata/connector-nhanes/pkg/listing"
)

// ManifestName is the audit snapshot written once per wave.
const ManifestName = "manifest.yaml"

// WriteManifest records every file entry considered for download in the
// wave directory, for auditing and manual recovery.
func WriteManifest(waveDir string, entries []listing.Entry) error {
	out, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(waveDir, ManifestName), out, 0o644)
}
