package ddns

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestNewUnknownProvider(t *testing.T) {
	p, err := New("unknown")
	assert.Assert(t, p == nil)
	assert.Assert(t, errors.Is(err, ErrUnknownProvider))
	assert.ErrorContains(t, err, `unknown provider "unknown"`)
	assert.ErrorContains(t, err, "aliyun, aws, cloudflare, tencent")
}

func TestNewKnownProviders(t *testing.T) {
	for _, id := range List() {
		p, err := New(id)
		assert.NilError(t, err)
		assert.Equal(t, p.ID(), id)
		assert.Assert(t, p.Name() != "")
	}

	p, err := New("Cloudflare")
	assert.NilError(t, err)
	assert.Equal(t, p.ID(), "cloudflare")
}

func TestNewReturnsFreshInstances(t *testing.T) {
	a, _ := New("aliyun")
	b, _ := New("aliyun")
	assert.Assert(t, a != b)
}

func TestList(t *testing.T) {
	assert.DeepEqual(t, List(), []string{"aliyun", "aws", "cloudflare", "tencent"})
}

func TestDescribe(t *testing.T) {
	infos := Describe()
	assert.Assert(t, is.Len(infos, 4))
	assert.Equal(t, infos[2].ID, "cloudflare")
	assert.DeepEqual(t, infos[2].RecordTypes, DefaultRecordTypes)
}
