package aws

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updraft-io/updraft/internal/cloud"
)

func TestParsePolicy(t *testing.T) {
	raw := `{
		"Version": "2012-10-17",
		"Id": "default",
		"Statement": [
			{
				"Sid": "updraft-route-get-users-deadbeef",
				"Effect": "Allow",
				"Principal": {"Service": "apigateway.amazonaws.com"},
				"Action": "lambda:InvokeFunction",
				"Resource": "arn:aws:lambda:eu-west-1:000000000000:function:demo-users-dev",
				"Condition": {
					"ArnLike": {
						"AWS:SourceArn": "arn:aws:execute-api:eu-west-1:000000000000:api01/*/GET/users"
					}
				}
			},
			{
				"Sid": "AllowMonitoringInvoke",
				"Effect": "Allow",
				"Principal": {"AWS": "arn:aws:iam::000000000000:role/monitoring"},
				"Action": "lambda:InvokeFunction",
				"Resource": "arn:aws:lambda:eu-west-1:000000000000:function:demo-users-dev"
			}
		]
	}`

	policy, err := parsePolicy("demo-users-dev", raw)
	require.NoError(t, err)
	require.Len(t, policy.Statements, 2)

	route, ok := policy.Statement("updraft-route-get-users-deadbeef")
	require.True(t, ok)
	assert.Equal(t, "lambda:InvokeFunction", route.Action)
	assert.Equal(t, "apigateway.amazonaws.com", route.Principal)
	assert.Equal(t, "arn:aws:execute-api:eu-west-1:000000000000:api01/*/GET/users", route.SourceARN)

	foreign, ok := policy.Statement("AllowMonitoringInvoke")
	require.True(t, ok)
	assert.Equal(t, "arn:aws:iam::000000000000:role/monitoring", foreign.Principal)
	assert.Empty(t, foreign.SourceARN)
}

func TestParsePolicy_Malformed(t *testing.T) {
	_, err := parsePolicy("demo-users-dev", "{ truncated")
	assert.Error(t, err)
}

func TestParsePrincipal(t *testing.T) {
	assert.Equal(t, "apigateway.amazonaws.com",
		parsePrincipal(json.RawMessage(`"apigateway.amazonaws.com"`)))
	assert.Equal(t, "apigateway.amazonaws.com",
		parsePrincipal(json.RawMessage(`{"Service": "apigateway.amazonaws.com"}`)))
	assert.Equal(t, "arn:aws:iam::000000000000:role/updraft-exec",
		parsePrincipal(json.RawMessage(`{"AWS": "arn:aws:iam::000000000000:role/updraft-exec"}`)))
	assert.Empty(t, parsePrincipal(json.RawMessage(`42`)))
}

func TestSafeString(t *testing.T) {
	s := "value"
	assert.Equal(t, "value", safeString(&s))
	assert.Empty(t, safeString(nil))
}

func TestRoleNameFromARN(t *testing.T) {
	assert.Equal(t, "updraft-exec", roleNameFromARN("arn:aws:iam::000000000000:role/updraft-exec"))
	assert.Equal(t, "updraft-exec", roleNameFromARN("arn:aws:iam::000000000000:role/service/updraft-exec"))
	assert.Equal(t, "updraft-exec", roleNameFromARN("updraft-exec"))
}

func TestTrustsLambda(t *testing.T) {
	plain := `{"Statement":[{"Effect":"Allow","Principal":{"Service":"lambda.amazonaws.com"},"Action":"sts:AssumeRole"}]}`
	assert.True(t, trustsLambda(plain))
	assert.True(t, trustsLambda(url.QueryEscape(plain)))
	assert.False(t, trustsLambda(`{"Statement":[{"Principal":{"Service":"ec2.amazonaws.com"}}]}`))
	assert.False(t, trustsLambda(""))
}

func TestInlineUploadable(t *testing.T) {
	require.NoError(t, inlineUploadable("creating function", "demo-users-dev", make([]byte, 1024)))

	err := inlineUploadable("creating function", "demo-users-dev", make([]byte, maxInlineUpload+1))
	require.Error(t, err)
	assert.False(t, cloud.IsTransient(err))
	assert.Contains(t, err.Error(), "ARTIFACT_BUCKET")
}
