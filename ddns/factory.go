package ddns

import (
	"fmt"
	"sort"
	"strings"
)

var Providers = map[string]func() Interface{
	"cloudflare": newCloudflare,
	"aliyun":     newAliyun,
	"tencent":    newTencent,
	"aws":        newRoute53,
}

// New returns a fresh, uninitialized adapter for id.
func New(id string) (Interface, error) {
	create, ok := Providers[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownProvider, id, strings.Join(List(), ", "))
	}
	return create(), nil
}

// List returns the known provider ids in sorted order.
func List() []string {
	ids := make([]string, 0, len(Providers))
	for id := range Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type Info struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	RecordTypes []string `json:"record_types"`
}

// Describe lists id, display name and record types of every known provider.
func Describe() []Info {
	infos := make([]Info, 0, len(Providers))
	for _, id := range List() {
		p := Providers[id]()
		infos = append(infos, Info{ID: p.ID(), Name: p.Name(), RecordTypes: p.SupportedRecordTypes()})
	}
	return infos
}
