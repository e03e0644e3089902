package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSMClient struct {
	params  map[string]string
	batches [][]string
	err     error
}

func (f *fakeSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, in.Names)
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := f.params[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProviderBatchesByTen(t *testing.T) {
	params := make(map[string]string)
	var keys []string
	for i := 0; i < 23; i++ {
		k := "/prod/adoptnotify/p" + string(rune('a'+i))
		params[k] = "v"
		keys = append(keys, k)
	}
	client := &fakeSSMClient{params: params}
	p := newSSMProviderWithClient("ap-southeast-2", client)

	got, err := p.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, got, 23)
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 10)
	assert.Len(t, client.batches[2], 3)
}

func TestSSMProviderInvalidParameter(t *testing.T) {
	p := newSSMProviderWithClient("ap-southeast-2", &fakeSSMClient{params: map[string]string{}})

	_, err := p.GetParametersBatch(context.Background(), []string{"/prod/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/prod/missing")
}

func TestSSMProviderClientError(t *testing.T) {
	p := newSSMProviderWithClient("ap-southeast-2", &fakeSSMClient{err: errors.New("denied")})

	_, err := p.GetParametersBatch(context.Background(), []string{"/prod/a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestSSMProviderEmptyKeys(t *testing.T) {
	p := NewSSMProvider("ap-southeast-2")

	got, err := p.GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEnvVarProvider(t *testing.T) {
	var _ SecretProvider = NewEnvVarProvider()
	t.Setenv("ADOPTNOTIFY_TEST_SECRET", "value")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(), []string{"ADOPTNOTIFY_TEST_SECRET", "ADOPTNOTIFY_MISSING"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ADOPTNOTIFY_TEST_SECRET": "value"}, got)
}
