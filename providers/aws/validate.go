package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Preflight verifies the credentials and configuration actually line
// up before a deploy touches anything: the caller's account must match
// the configured account, and the execution role must exist and be
// assumable by the Lambda service.
func (c *Client) Preflight(ctx context.Context) error {
	identity, err := c.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("credentials check failed: %w", err)
	}
	if identity.Account != nil && *identity.Account != c.cfg.AccountID {
		return fmt.Errorf("credentials belong to account %s, but configuration targets account %s",
			*identity.Account, c.cfg.AccountID)
	}

	roleName := roleNameFromARN(c.cfg.RoleARN())
	role, err := c.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &roleName})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("execution role %s does not exist in account %s", roleName, c.cfg.AccountID)
		}
		return fmt.Errorf("execution role check failed: %w", err)
	}
	if !trustsLambda(safeString(role.Role.AssumeRolePolicyDocument)) {
		return fmt.Errorf("execution role %s does not trust lambda.amazonaws.com", roleName)
	}
	return nil
}

// trustsLambda reports whether an assume-role policy document names the
// Lambda service principal. IAM returns the document URL-encoded.
func trustsLambda(doc string) bool {
	if decoded, err := url.QueryUnescape(doc); err == nil {
		doc = decoded
	}
	return strings.Contains(doc, "lambda.amazonaws.com")
}

func roleNameFromARN(arn string) string {
	if idx := strings.LastIndex(arn, "/"); idx >= 0 {
		return arn[idx+1:]
	}
	return arn
}
