package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"

	"github.com/updraft-io/updraft/internal/cloud"
	"github.com/updraft-io/updraft/internal/logging"
)

// maxInlineUpload is the platform limit for zip payloads sent inline
// with the request instead of staged through S3.
const maxInlineUpload = 50 << 20

// inlineUploadable rejects archives too large to send inline.
func inlineUploadable(op, resource string, zipBytes []byte) error {
	if len(zipBytes) > maxInlineUpload {
		return cloud.NewPermanent(op, resource, fmt.Errorf(
			"archive is %.1f MB, over the %d MB inline upload limit; set ARTIFACT_BUCKET to stage uploads through S3",
			float64(len(zipBytes))/(1<<20), maxInlineUpload>>20))
	}
	return nil
}

// CreateOrUpdateLayer publishes a new layer version. Layer versions are
// immutable, so an update is always a fresh publish.
func (c *Client) CreateOrUpdateLayer(ctx context.Context, spec cloud.LayerSpec) (*cloud.RemoteResource, error) {
	content := &types.LayerVersionContentInput{}
	if spec.S3Bucket != "" {
		if err := c.stageArtifact(ctx, spec.S3Bucket, spec.S3Key, spec.ArchivePath); err != nil {
			return nil, err
		}
		content.S3Bucket = &spec.S3Bucket
		content.S3Key = &spec.S3Key
	} else {
		zipBytes, err := os.ReadFile(spec.ArchivePath)
		if err != nil {
			return nil, cloud.NewPermanent("publishing layer", spec.Name, err)
		}
		if err := inlineUploadable("publishing layer", spec.Name, zipBytes); err != nil {
			return nil, err
		}
		content.ZipFile = zipBytes
	}

	input := &lambda.PublishLayerVersionInput{
		LayerName: &spec.Name,
		Content:   content,
	}
	if spec.Description != "" {
		input.Description = &spec.Description
	}
	if len(spec.CompatibleRuntimes) > 0 {
		var runtimes []types.Runtime
		for _, r := range spec.CompatibleRuntimes {
			runtimes = append(runtimes, types.Runtime(r))
		}
		input.CompatibleRuntimes = runtimes
	}

	resp, err := c.lambdaClient.PublishLayerVersion(ctx, input)
	if err != nil {
		return nil, classify("publishing layer", spec.Name, err)
	}

	return &cloud.RemoteResource{
		ID:      *resp.LayerVersionArn,
		Version: fmt.Sprintf("%d", resp.Version),
	}, nil
}

// CreateOrUpdateFunction creates the function if absent, otherwise
// pushes code and configuration updates and waits for them to settle.
func (c *Client) CreateOrUpdateFunction(ctx context.Context, spec cloud.FunctionSpec) (*cloud.RemoteResource, error) {
	existing, err := c.getFunction(ctx, spec.Name)
	if err != nil {
		return nil, err
	}

	var remote *cloud.RemoteResource
	if existing == nil {
		remote, err = c.createFunction(ctx, spec)
	} else {
		remote, err = c.updateFunction(ctx, spec, existing)
	}
	if err != nil {
		return nil, err
	}

	if spec.LogRetentionDays > 0 {
		if err := c.ensureLogGroup(ctx, spec.Name, spec.LogRetentionDays); err != nil {
			logging.Warn("could not configure log retention", "function", spec.Name, "error", err)
		}
	}
	return remote, nil
}

func (c *Client) createFunction(ctx context.Context, spec cloud.FunctionSpec) (*cloud.RemoteResource, error) {
	code, err := c.functionCode(ctx, spec)
	if err != nil {
		return nil, err
	}

	input := &lambda.CreateFunctionInput{
		FunctionName: &spec.Name,
		Runtime:      types.Runtime(spec.Runtime),
		Handler:      &spec.Handler,
		Role:         &spec.Role,
		Code:         code,
		Layers:       spec.LayerARNs,
	}
	if len(spec.Environment) > 0 {
		input.Environment = &types.Environment{Variables: spec.Environment}
	}

	resp, err := c.lambdaClient.CreateFunction(ctx, input)
	if err != nil {
		// A freshly created role can take a moment before Lambda is
		// allowed to assume it.
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "InvalidParameterValueException" && strings.Contains(ae.ErrorMessage(), "assume") {
			return nil, cloud.NewTransient("creating function", spec.Name, err)
		}
		return nil, classify("creating function", spec.Name, err)
	}

	if err := c.waitSettled(ctx, spec.Name); err != nil {
		return nil, err
	}
	return &cloud.RemoteResource{ID: *resp.FunctionArn, Version: *resp.Version}, nil
}

func (c *Client) updateFunction(ctx context.Context, spec cloud.FunctionSpec, existing *types.FunctionConfiguration) (*cloud.RemoteResource, error) {
	// Push code only when the archive digest differs from the remote.
	if existing.CodeSha256 == nil || *existing.CodeSha256 != spec.CodeSHA256 {
		input := &lambda.UpdateFunctionCodeInput{FunctionName: &spec.Name}
		if spec.S3Bucket != "" {
			if err := c.stageArtifact(ctx, spec.S3Bucket, spec.S3Key, spec.ArchivePath); err != nil {
				return nil, err
			}
			input.S3Bucket = &spec.S3Bucket
			input.S3Key = &spec.S3Key
		} else {
			zipBytes, err := os.ReadFile(spec.ArchivePath)
			if err != nil {
				return nil, cloud.NewPermanent("updating function code", spec.Name, err)
			}
			if err := inlineUploadable("updating function code", spec.Name, zipBytes); err != nil {
				return nil, err
			}
			input.ZipFile = zipBytes
		}
		if _, err := c.lambdaClient.UpdateFunctionCode(ctx, input); err != nil {
			return nil, classify("updating function code", spec.Name, err)
		}
		if err := c.waitSettled(ctx, spec.Name); err != nil {
			return nil, err
		}
	}

	confInput := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: &spec.Name,
		Runtime:      types.Runtime(spec.Runtime),
		Handler:      &spec.Handler,
		Role:         &spec.Role,
		Layers:       spec.LayerARNs,
		Environment:  &types.Environment{Variables: spec.Environment},
	}
	if _, err := c.lambdaClient.UpdateFunctionConfiguration(ctx, confInput); err != nil {
		return nil, classify("updating function configuration", spec.Name, err)
	}
	if err := c.waitSettled(ctx, spec.Name); err != nil {
		return nil, err
	}

	out, err := c.getFunction(ctx, spec.Name)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, cloud.NewPermanent("updating function", spec.Name, fmt.Errorf("function disappeared during update"))
	}
	return &cloud.RemoteResource{ID: *out.FunctionArn, Version: *out.Version}, nil
}

func (c *Client) functionCode(ctx context.Context, spec cloud.FunctionSpec) (*types.FunctionCode, error) {
	if spec.S3Bucket != "" {
		if err := c.stageArtifact(ctx, spec.S3Bucket, spec.S3Key, spec.ArchivePath); err != nil {
			return nil, err
		}
		return &types.FunctionCode{S3Bucket: &spec.S3Bucket, S3Key: &spec.S3Key}, nil
	}
	zipBytes, err := os.ReadFile(spec.ArchivePath)
	if err != nil {
		return nil, cloud.NewPermanent("reading archive", spec.Name, err)
	}
	if err := inlineUploadable("creating function", spec.Name, zipBytes); err != nil {
		return nil, err
	}
	return &types.FunctionCode{ZipFile: zipBytes}, nil
}

// getFunction returns the function configuration, or nil when the
// function does not exist.
func (c *Client) getFunction(ctx context.Context, name string) (*types.FunctionConfiguration, error) {
	out, err := c.lambdaClient.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: &name})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, classify("reading function", name, err)
	}
	return out.Configuration, nil
}

// waitSettled polls until the function leaves the Pending state and has
// no update in progress. Lambda rejects overlapping updates.
func (c *Client) waitSettled(ctx context.Context, name string) error {
	deadline := time.Now().Add(2 * time.Minute)
	for {
		out, err := c.lambdaClient.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: &name})
		if err != nil {
			return classify("waiting for function", name, err)
		}
		conf := out.Configuration
		if conf.State != types.StatePending && conf.LastUpdateStatus != types.LastUpdateStatusInProgress {
			if conf.State == types.StateFailed {
				return cloud.NewPermanent("waiting for function", name, fmt.Errorf("function entered failed state: %s", safeString(conf.StateReason)))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return cloud.NewTransient("waiting for function", name, fmt.Errorf("function did not settle within 2 minutes"))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// GetResourcePolicy reads and parses the function's invoke policy. A
// function with no policy yields an empty policy.
func (c *Client) GetResourcePolicy(ctx context.Context, functionName string) (*cloud.Policy, error) {
	out, err := c.lambdaClient.GetPolicy(ctx, &lambda.GetPolicyInput{FunctionName: &functionName})
	if err != nil {
		if isNotFound(err) {
			return &cloud.Policy{}, nil
		}
		return nil, classify("reading policy", functionName, err)
	}
	if out.Policy == nil {
		return &cloud.Policy{}, nil
	}
	return parsePolicy(functionName, *out.Policy)
}

// PutPermissionStatement adds one statement to the function's policy.
func (c *Client) PutPermissionStatement(ctx context.Context, stmt cloud.Statement) error {
	input := &lambda.AddPermissionInput{
		FunctionName: &stmt.FunctionName,
		StatementId:  &stmt.StatementID,
		Action:       &stmt.Action,
		Principal:    &stmt.Principal,
	}
	if stmt.SourceARN != "" {
		input.SourceArn = &stmt.SourceARN
	}

	if _, err := c.lambdaClient.AddPermission(ctx, input); err != nil {
		return classify("adding permission", stmt.FunctionName, err)
	}
	return nil
}

// RemovePermissionStatement deletes one statement. A statement that is
// already gone is not an error.
func (c *Client) RemovePermissionStatement(ctx context.Context, functionName, statementID string) error {
	_, err := c.lambdaClient.RemovePermission(ctx, &lambda.RemovePermissionInput{
		FunctionName: &functionName,
		StatementId:  &statementID,
	})
	if err != nil && !isNotFound(err) {
		return classify("removing permission", functionName, err)
	}
	return nil
}

// policyDocument is the wire shape of a Lambda resource policy.
type policyDocument struct {
	Statement []struct {
		Sid       string          `json:"Sid"`
		Action    string          `json:"Action"`
		Principal json.RawMessage `json:"Principal"`
		Condition struct {
			ArnLike struct {
				SourceArn string `json:"AWS:SourceArn"`
			} `json:"ArnLike"`
		} `json:"Condition"`
	} `json:"Statement"`
}

func parsePolicy(functionName, raw string) (*cloud.Policy, error) {
	var doc policyDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, cloud.NewPermanent("parsing policy", functionName, err)
	}

	policy := &cloud.Policy{}
	for _, s := range doc.Statement {
		policy.Statements = append(policy.Statements, cloud.Statement{
			FunctionName: functionName,
			StatementID:  s.Sid,
			Action:       s.Action,
			Principal:    parsePrincipal(s.Principal),
			SourceARN:    s.Condition.ArnLike.SourceArn,
		})
	}
	return policy, nil
}

// parsePrincipal handles both principal encodings: a bare string and
// the {"Service": ...} / {"AWS": ...} object form.
func parsePrincipal(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err == nil {
		if v, ok := obj["Service"]; ok {
			return v
		}
		if v, ok := obj["AWS"]; ok {
			return v
		}
	}
	return ""
}

func safeString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
