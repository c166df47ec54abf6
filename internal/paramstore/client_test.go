package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	requested string
	decrypt   bool
	values    map[string]string
	err       error
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.requested = aws.ToString(in.Name)
	f.decrypt = aws.ToBool(in.WithDecryption)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[f.requested]
	if !ok {
		return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name}}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: in.Name, Value: aws.String(v), Type: types.ParameterTypeSecureString,
	}}, nil
}

func TestResolve_Absolute(t *testing.T) {
	api := &fakeAPI{values: map[string]string{"/shared/openai": "sk-1"}}
	client, err := New(api, "intentgate/prod")
	require.NoError(t, err)

	v, err := client.Resolve(context.Background(), "/shared/openai")
	require.NoError(t, err)
	require.Equal(t, "sk-1", v)
	require.True(t, api.decrypt)
}

func TestResolve_RelativeUsesPrefix(t *testing.T) {
	api := &fakeAPI{values: map[string]string{"/intentgate/prod/deepseek": "sk-2"}}
	client, err := New(api, "intentgate/prod")
	require.NoError(t, err)

	v, err := client.Resolve(context.Background(), " deepseek ")
	require.NoError(t, err)
	require.Equal(t, "sk-2", v)
	require.Equal(t, "/intentgate/prod/deepseek", api.requested)
}

func TestResolve_MissingValue(t *testing.T) {
	client, err := New(&fakeAPI{}, "")
	require.NoError(t, err)
	_, err = client.Resolve(context.Background(), "/p")
	require.ErrorContains(t, err, "missing value")
}

func TestResolve_APIError(t *testing.T) {
	client, err := New(&fakeAPI{err: errors.New("boom")}, "")
	require.NoError(t, err)
	_, err = client.Resolve(context.Background(), "/p")
	require.ErrorContains(t, err, "boom")
}

func TestResolve_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{}, "")
	require.NoError(t, err)
	_, err = client.Resolve(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestResolve_NotInitialized(t *testing.T) {
	_, err := (&Client{}).Resolve(context.Background(), "/p")
	require.ErrorContains(t, err, "not initialized")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "")
	require.ErrorContains(t, err, "must not be nil")
}
