package kb

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/mediagraph/catalog-cli/internal/policy"
)

// blocklistFile is the shape of a local blocklist override file:
//
//	items:
//	  - Q4115189
//	pairs:
//	  - item: Q172241
//	    property: P444
type blocklistFile struct {
	Items []string `yaml:"items"`
	Pairs []struct {
		Item     string `yaml:"item"`
		Property string `yaml:"property"`
	} `yaml:"pairs"`
}

// ApplyBlocklistFile merges a local override file into bl. Operators use
// it to block items ahead of the maintained page catching up. A missing
// path is not an error; a present but unreadable or malformed file is,
// since an unverifiable exclusion list must stop the run.
func ApplyBlocklistFile(bl *policy.Blocklist, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrapf(err, "kb: read blocklist file %s", path)
	}

	var f blocklistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return eris.Wrapf(err, "kb: parse blocklist file %s", path)
	}

	for _, item := range f.Items {
		if !IsItem(item) {
			return eris.Errorf("kb: blocklist file %s: invalid item %q", path, item)
		}
		bl.Add(item)
	}
	for _, p := range f.Pairs {
		if !IsItem(p.Item) {
			return eris.Errorf("kb: blocklist file %s: invalid item %q", path, p.Item)
		}
		bl.AddPair(p.Item, p.Property)
	}
	return nil
}
