package aws

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/smithy-go"
)

// ensureLogGroup pre-creates the function's log group and sets its
// retention. Lambda would create the group on first invoke, but with
// unbounded retention.
func (c *Client) ensureLogGroup(ctx context.Context, functionName string, retentionDays int32) error {
	logGroup := "/aws/lambda/" + functionName

	if _, err := c.logsClient.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: &logGroup,
	}); err != nil {
		var ae smithy.APIError
		if !errors.As(err, &ae) || ae.ErrorCode() != "ResourceAlreadyExistsException" {
			return classify("creating log group", logGroup, err)
		}
	}

	if _, err := c.logsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    &logGroup,
		RetentionInDays: &retentionDays,
	}); err != nil {
		return classify("setting log retention", logGroup, err)
	}
	return nil
}
