package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"

	"github.com/updraft-io/updraft/internal/cloud"
)

const defaultStage = "$default"

// CreateOrUpdateApiRoute ensures the HTTP API, the proxy integration to
// the function, and the route itself. The returned resource ID is the
// composite "apiID/routeID".
func (c *Client) CreateOrUpdateApiRoute(ctx context.Context, spec cloud.RouteSpec) (*cloud.RemoteResource, error) {
	apiName := c.cfg.APIName()
	if spec.Public {
		apiName = c.cfg.PublicAPIName()
	}

	apiID, err := c.ensureAPI(ctx, apiName)
	if err != nil {
		return nil, err
	}

	integrationID, err := c.ensureIntegration(ctx, apiID, spec.FunctionARN)
	if err != nil {
		return nil, err
	}

	routeID, err := c.ensureRoute(ctx, apiID, spec.RouteKey, integrationID)
	if err != nil {
		return nil, err
	}

	return &cloud.RemoteResource{ID: apiID + "/" + routeID}, nil
}

// ensureAPI finds the HTTP API by name or creates it along with its
// auto-deploying default stage. API IDs are cached per run.
func (c *Client) ensureAPI(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if id, ok := c.apiIDs[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	id, err := c.findAPI(ctx, name)
	if err != nil {
		return "", err
	}

	if id == "" {
		resp, err := c.apigwClient.CreateApi(ctx, &apigatewayv2.CreateApiInput{
			Name:         &name,
			ProtocolType: types.ProtocolTypeHttp,
		})
		if err != nil {
			return "", classify("creating api", name, err)
		}
		id = *resp.ApiId

		stageName := defaultStage
		autoDeploy := true
		if _, err := c.apigwClient.CreateStage(ctx, &apigatewayv2.CreateStageInput{
			ApiId:      &id,
			StageName:  &stageName,
			AutoDeploy: &autoDeploy,
		}); err != nil && !isConflict(err) {
			return "", classify("creating stage", name, err)
		}
	}

	c.mu.Lock()
	c.apiIDs[name] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) findAPI(ctx context.Context, name string) (string, error) {
	maxResults := "100"
	var nextToken *string
	for {
		resp, err := c.apigwClient.GetApis(ctx, &apigatewayv2.GetApisInput{
			MaxResults: &maxResults,
			NextToken:  nextToken,
		})
		if err != nil {
			return "", classify("listing apis", name, err)
		}
		for _, api := range resp.Items {
			if api.Name != nil && *api.Name == name {
				return *api.ApiId, nil
			}
		}
		if resp.NextToken == nil {
			return "", nil
		}
		nextToken = resp.NextToken
	}
}

// ensureIntegration finds or creates the AWS_PROXY integration pointing
// at the function.
func (c *Client) ensureIntegration(ctx context.Context, apiID, functionARN string) (string, error) {
	maxResults := "100"
	var nextToken *string
	for {
		resp, err := c.apigwClient.GetIntegrations(ctx, &apigatewayv2.GetIntegrationsInput{
			ApiId:      &apiID,
			MaxResults: &maxResults,
			NextToken:  nextToken,
		})
		if err != nil {
			return "", classify("listing integrations", apiID, err)
		}
		for _, integration := range resp.Items {
			if integration.IntegrationUri != nil && *integration.IntegrationUri == functionARN {
				return *integration.IntegrationId, nil
			}
		}
		if resp.NextToken == nil {
			break
		}
		nextToken = resp.NextToken
	}

	payloadFormat := "2.0"
	resp, err := c.apigwClient.CreateIntegration(ctx, &apigatewayv2.CreateIntegrationInput{
		ApiId:                &apiID,
		IntegrationType:      types.IntegrationTypeAwsProxy,
		IntegrationUri:       &functionARN,
		PayloadFormatVersion: &payloadFormat,
	})
	if err != nil {
		return "", classify("creating integration", apiID, err)
	}
	return *resp.IntegrationId, nil
}

// ensureRoute finds the route by key and repoints it when the target
// integration changed, or creates it.
func (c *Client) ensureRoute(ctx context.Context, apiID, routeKey, integrationID string) (string, error) {
	target := "integrations/" + integrationID

	maxResults := "100"
	var nextToken *string
	for {
		resp, err := c.apigwClient.GetRoutes(ctx, &apigatewayv2.GetRoutesInput{
			ApiId:      &apiID,
			MaxResults: &maxResults,
			NextToken:  nextToken,
		})
		if err != nil {
			return "", classify("listing routes", routeKey, err)
		}
		for _, route := range resp.Items {
			if route.RouteKey == nil || *route.RouteKey != routeKey {
				continue
			}
			routeID := *route.RouteId
			if route.Target == nil || *route.Target != target {
				if _, err := c.apigwClient.UpdateRoute(ctx, &apigatewayv2.UpdateRouteInput{
					ApiId:   &apiID,
					RouteId: &routeID,
					Target:  &target,
				}); err != nil {
					return "", classify("updating route", routeKey, err)
				}
			}
			return routeID, nil
		}
		if resp.NextToken == nil {
			break
		}
		nextToken = resp.NextToken
	}

	resp, err := c.apigwClient.CreateRoute(ctx, &apigatewayv2.CreateRouteInput{
		ApiId:    &apiID,
		RouteKey: &routeKey,
		Target:   &target,
	})
	if err != nil {
		return "", classify("creating route", routeKey, err)
	}
	return *resp.RouteId, nil
}

// verifyRoute checks that a recorded "apiID/routeID" still exists.
func (c *Client) verifyRoute(ctx context.Context, remoteID string) (bool, error) {
	apiID, routeID, found := strings.Cut(remoteID, "/")
	if !found {
		return false, fmt.Errorf("malformed route identifier %q", remoteID)
	}

	_, err := c.apigwClient.GetRoute(ctx, &apigatewayv2.GetRouteInput{
		ApiId:   &apiID,
		RouteId: &routeID,
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify("reading route", remoteID, err)
	}
	return true, nil
}
