// Package awsgateway implements [domain.Gateway] on top of the Amazon API
// Gateway REST API.
package awsgateway

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	"github.com/aws/smithy-go"
	"github.com/containerd/log"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// API is the subset of the API Gateway client the adapter uses.
type API interface {
	GetDeployments(ctx context.Context, in *apigateway.GetDeploymentsInput, optFns ...func(*apigateway.Options)) (*apigateway.GetDeploymentsOutput, error)
	CreateDeployment(ctx context.Context, in *apigateway.CreateDeploymentInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateDeploymentOutput, error)
	GetStages(ctx context.Context, in *apigateway.GetStagesInput, optFns ...func(*apigateway.Options)) (*apigateway.GetStagesOutput, error)
	GetStage(ctx context.Context, in *apigateway.GetStageInput, optFns ...func(*apigateway.Options)) (*apigateway.GetStageOutput, error)
	CreateStage(ctx context.Context, in *apigateway.CreateStageInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateStageOutput, error)
	UpdateStage(ctx context.Context, in *apigateway.UpdateStageInput, optFns ...func(*apigateway.Options)) (*apigateway.UpdateStageOutput, error)
	TagResource(ctx context.Context, in *apigateway.TagResourceInput, optFns ...func(*apigateway.Options)) (*apigateway.TagResourceOutput, error)
	UntagResource(ctx context.Context, in *apigateway.UntagResourceInput, optFns ...func(*apigateway.Options)) (*apigateway.UntagResourceOutput, error)
	GetUsagePlan(ctx context.Context, in *apigateway.GetUsagePlanInput, optFns ...func(*apigateway.Options)) (*apigateway.GetUsagePlanOutput, error)
	UpdateUsagePlan(ctx context.Context, in *apigateway.UpdateUsagePlanInput, optFns ...func(*apigateway.Options)) (*apigateway.UpdateUsagePlanOutput, error)
}

var _ domain.Gateway = (*Gateway)(nil)

// Gateway talks to API Gateway in one region.
type Gateway struct {
	Client API
	// Region is used to build the stage ARNs that tags are attached to.
	Region string
}

// New creates a Gateway using the default credential chain
// (environment, shared config files, instance metadata).
func New(ctx context.Context, region string) (*Gateway, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("%w: no aws region configured", domain.ErrInvalidArgument)
	}
	log.G(ctx).WithField("region", cfg.Region).Debug("created api gateway client")
	return &Gateway{Client: apigateway.NewFromConfig(cfg), Region: cfg.Region}, nil
}

func (g *Gateway) ListDeployments(ctx context.Context, apiID string) ([]domain.Deployment, error) {
	var out []domain.Deployment
	p := apigateway.NewGetDeploymentsPaginator(g.Client, &apigateway.GetDeploymentsInput{
		RestApiId: aws.String(apiID),
		Limit:     aws.Int32(500),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get deployments of api %q: %w", apiID, mapError(err, domain.ErrFailedPrecondition))
		}
		for _, d := range page.Items {
			out = append(out, domain.Deployment{
				ID:          domain.DeploymentID(aws.ToString(d.Id)),
				Description: aws.ToString(d.Description),
				CreatedAt:   aws.ToTime(d.CreatedDate),
			})
		}
	}
	return out, nil
}

func (g *Gateway) CreateDeployment(ctx context.Context, apiID, description string) (domain.Deployment, error) {
	res, err := g.Client.CreateDeployment(ctx, &apigateway.CreateDeploymentInput{
		RestApiId:   aws.String(apiID),
		Description: aws.String(description),
	})
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("create deployment of api %q: %w", apiID, mapError(err, domain.ErrFailedPrecondition))
	}
	createdAt := aws.ToTime(res.CreatedDate)
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return domain.Deployment{
		ID:          domain.DeploymentID(aws.ToString(res.Id)),
		Description: aws.ToString(res.Description),
		CreatedAt:   createdAt,
	}, nil
}

func (g *Gateway) ListStages(ctx context.Context, apiID string) ([]domain.Stage, error) {
	res, err := g.Client.GetStages(ctx, &apigateway.GetStagesInput{RestApiId: aws.String(apiID)})
	if err != nil {
		return nil, fmt.Errorf("get stages of api %q: %w", apiID, mapError(err, domain.ErrFailedPrecondition))
	}
	out := make([]domain.Stage, 0, len(res.Item))
	for _, s := range res.Item {
		out = append(out, toStage(apiID, s))
	}
	return out, nil
}

// CreateStage creates the stage and then applies what CreateStage itself
// cannot carry (method settings, cache cluster and tracing) as an update.
func (g *Gateway) CreateStage(ctx context.Context, in domain.CreateStageInput) (domain.Stage, error) {
	res, err := g.Client.CreateStage(ctx, &apigateway.CreateStageInput{
		RestApiId:    aws.String(in.APIID),
		StageName:    aws.String(in.Name),
		DeploymentId: aws.String(string(in.DeploymentID)),
		Description:  aws.String(in.Description),
		Variables:    in.Variables,
		Tags:         in.Tags,
	})
	if err != nil {
		return domain.Stage{}, fmt.Errorf("create stage %q of api %q: %w", in.Name, in.APIID, mapError(err, domain.ErrAlreadyExists))
	}
	st := toStage(in.APIID, fromCreate(res))

	cache := in.Cache.Normalize()
	patch := domain.StagePatch{MethodSettings: in.MethodSettings}
	if cache.Enabled {
		patch.Cache = &cache
	}
	if in.TracingEnabled {
		patch.TracingEnabled = &in.TracingEnabled
	}
	ops := patchOperations(patch)
	if len(ops) == 0 {
		return st, nil
	}
	upd, err := g.Client.UpdateStage(ctx, &apigateway.UpdateStageInput{
		RestApiId:       aws.String(in.APIID),
		StageName:       aws.String(in.Name),
		PatchOperations: ops,
	})
	if err != nil {
		return domain.Stage{}, fmt.Errorf("configure new stage %q of api %q: %w", in.Name, in.APIID, mapError(err, domain.ErrFailedPrecondition))
	}
	return toStage(in.APIID, fromUpdate(upd)), nil
}

// UpdateStage applies the attribute changes of patch with one UpdateStage
// call and the tag changes through the tagging API.
func (g *Gateway) UpdateStage(ctx context.Context, apiID, stageName string, patch domain.StagePatch) (domain.Stage, error) {
	var st domain.Stage
	if ops := patchOperations(patch); len(ops) > 0 {
		res, err := g.Client.UpdateStage(ctx, &apigateway.UpdateStageInput{
			RestApiId:       aws.String(apiID),
			StageName:       aws.String(stageName),
			PatchOperations: ops,
		})
		if err != nil {
			return domain.Stage{}, fmt.Errorf("update stage %q of api %q: %w", stageName, apiID, mapError(err, domain.ErrFailedPrecondition))
		}
		st = toStage(apiID, fromUpdate(res))
	} else {
		res, err := g.Client.GetStage(ctx, &apigateway.GetStageInput{
			RestApiId: aws.String(apiID),
			StageName: aws.String(stageName),
		})
		if err != nil {
			return domain.Stage{}, fmt.Errorf("get stage %q of api %q: %w", stageName, apiID, mapError(err, domain.ErrFailedPrecondition))
		}
		st = toStage(apiID, fromGet(res))
	}

	if len(patch.Tags) == 0 && len(patch.RemoveTags) == 0 {
		return st, nil
	}
	arn := aws.String(domain.StageARN(g.Region, apiID, stageName))
	if len(patch.RemoveTags) > 0 {
		if _, err := g.Client.UntagResource(ctx, &apigateway.UntagResourceInput{
			ResourceArn: arn,
			TagKeys:     patch.RemoveTags,
		}); err != nil {
			return domain.Stage{}, fmt.Errorf("untag stage %q of api %q: %w", stageName, apiID, mapError(err, domain.ErrFailedPrecondition))
		}
	}
	if len(patch.Tags) > 0 {
		if _, err := g.Client.TagResource(ctx, &apigateway.TagResourceInput{
			ResourceArn: arn,
			Tags:        patch.Tags,
		}); err != nil {
			return domain.Stage{}, fmt.Errorf("tag stage %q of api %q: %w", stageName, apiID, mapError(err, domain.ErrFailedPrecondition))
		}
	}
	// The update response predates the tagging calls.
	return domain.StagePatch{Tags: patch.Tags, RemoveTags: patch.RemoveTags}.Apply(st), nil
}

func (g *Gateway) AttachUsagePlan(ctx context.Context, usagePlanID, apiID, stageName string) error {
	plan, err := g.Client.GetUsagePlan(ctx, &apigateway.GetUsagePlanInput{UsagePlanId: aws.String(usagePlanID)})
	if err != nil {
		return fmt.Errorf("get usage plan %q: %w", usagePlanID, mapError(err, domain.ErrFailedPrecondition))
	}
	for _, s := range plan.ApiStages {
		if aws.ToString(s.ApiId) == apiID && aws.ToString(s.Stage) == stageName {
			return nil
		}
	}
	_, err = g.Client.UpdateUsagePlan(ctx, &apigateway.UpdateUsagePlanInput{
		UsagePlanId: aws.String(usagePlanID),
		PatchOperations: []types.PatchOperation{{
			Op:    types.OpAdd,
			Path:  aws.String("/apiStages"),
			Value: aws.String(apiID + ":" + stageName),
		}},
	})
	if err != nil {
		return fmt.Errorf("add stage %q of api %q to usage plan %q: %w", stageName, apiID, usagePlanID, mapError(err, domain.ErrFailedPrecondition))
	}
	return nil
}

// mapError translates API Gateway error codes into the domain's error
// classes. conflict is the class reported for ConflictException, which
// means a name clash on create and a concurrent modification otherwise.
func mapError(err error, conflict error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "NotFoundException":
		return errors.Join(domain.ErrNotFound, err)
	case "ConflictException":
		if errors.Is(conflict, domain.ErrAlreadyExists) {
			return errors.Join(domain.ErrAlreadyExists, err)
		}
		return errors.Join(domain.ErrConflict, err)
	case "BadRequestException":
		return errors.Join(domain.ErrFailedPrecondition, err)
	}
	return err
}

// patchOperations translates the attribute part of patch into UpdateStage
// patch operations. Tags are not part of it.
func patchOperations(p domain.StagePatch) []types.PatchOperation {
	var ops []types.PatchOperation
	replace := func(path, value string) {
		ops = append(ops, types.PatchOperation{Op: types.OpReplace, Path: aws.String(path), Value: aws.String(value)})
	}
	remove := func(path string) {
		ops = append(ops, types.PatchOperation{Op: types.OpRemove, Path: aws.String(path)})
	}

	if p.DeploymentID != nil {
		replace("/deploymentId", string(*p.DeploymentID))
	}
	if p.Description != nil {
		replace("/description", *p.Description)
	}
	if p.Cache != nil {
		c := p.Cache.Normalize()
		replace("/cacheClusterEnabled", strconv.FormatBool(c.Enabled))
		if c.Enabled {
			replace("/cacheClusterSize", c.Size)
		}
	}
	if p.TracingEnabled != nil {
		replace("/tracingEnabled", strconv.FormatBool(*p.TracingEnabled))
	}
	for _, k := range slices.Sorted(maps.Keys(p.Variables)) {
		replace("/variables/"+escapePath(k), p.Variables[k])
	}
	for _, k := range p.RemoveVariables {
		remove("/variables/" + escapePath(k))
	}
	for _, route := range p.ResetMethodSettings {
		remove(methodSettingsPath(route))
	}
	for _, route := range slices.Sorted(maps.Keys(p.MethodSettings)) {
		prefix := methodSettingsPath(route)
		s := p.MethodSettings[route]
		if s.ThrottlingBurstLimit != nil {
			replace(prefix+"/throttling/burstLimit", strconv.Itoa(*s.ThrottlingBurstLimit))
		}
		if s.ThrottlingRateLimit != nil {
			replace(prefix+"/throttling/rateLimit", strconv.FormatFloat(*s.ThrottlingRateLimit, 'f', -1, 64))
		}
		if s.CachingEnabled != nil {
			replace(prefix+"/caching/enabled", strconv.FormatBool(*s.CachingEnabled))
		}
		if s.CacheTTLSeconds != nil {
			replace(prefix+"/caching/ttlInSeconds", strconv.Itoa(*s.CacheTTLSeconds))
		}
		if s.LoggingLevel != nil {
			replace(prefix+"/logging/loglevel", *s.LoggingLevel)
		}
		if s.MetricsEnabled != nil {
			replace(prefix+"/metrics/enabled", strconv.FormatBool(*s.MetricsEnabled))
		}
	}
	for _, route := range p.RemoveMethodSettings {
		remove(methodSettingsPath(route))
	}
	return ops
}

// methodSettingsPath is the patch path prefix of a route's settings:
// "/*/*" for the wildcard, otherwise "/<escaped resource path>/<METHOD>".
func methodSettingsPath(route domain.RouteKey) string {
	if route == domain.WildcardRoute {
		return "/*/*"
	}
	return "/" + escapePath(route.Path()) + "/" + route.Method()
}

// escapePath applies JSON-pointer escaping to a path segment.
func escapePath(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}

// routeFromSettingsKey turns a key of Stage.MethodSettings
// ("*/*", "users/GET", "~1users~1{id}/PUT") into a route key.
func routeFromSettingsKey(key string) domain.RouteKey {
	if key == string(domain.WildcardRoute) {
		return domain.WildcardRoute
	}
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return domain.RouteKey(key)
	}
	path := strings.NewReplacer("~1", "/", "~0", "~").Replace(key[:i])
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return domain.NewRouteKey(key[i+1:], path)
}

func toStage(apiID string, s types.Stage) domain.Stage {
	st := domain.Stage{
		APIID:          apiID,
		Name:           aws.ToString(s.StageName),
		DeploymentID:   domain.DeploymentID(aws.ToString(s.DeploymentId)),
		Description:    aws.ToString(s.Description),
		Cache:          domain.CacheConfig{Enabled: s.CacheClusterEnabled, Size: string(s.CacheClusterSize)}.Normalize(),
		Variables:      s.Variables,
		TracingEnabled: s.TracingEnabled,
		Tags:           s.Tags,
		WebACLARN:      aws.ToString(s.WebAclArn),
		CreatedAt:      aws.ToTime(s.CreatedDate),
		UpdatedAt:      aws.ToTime(s.LastUpdatedDate),
	}
	if len(s.MethodSettings) > 0 {
		st.MethodSettings = make(map[domain.RouteKey]domain.MethodSettings, len(s.MethodSettings))
		for k, ms := range s.MethodSettings {
			st.MethodSettings[routeFromSettingsKey(k)] = domain.MethodSettings{
				ThrottlingBurstLimit: aws.Int(int(ms.ThrottlingBurstLimit)),
				ThrottlingRateLimit:  aws.Float64(ms.ThrottlingRateLimit),
				CachingEnabled:       aws.Bool(ms.CachingEnabled),
				CacheTTLSeconds:      aws.Int(int(ms.CacheTtlInSeconds)),
				LoggingLevel:         ms.LoggingLevel,
				MetricsEnabled:       aws.Bool(ms.MetricsEnabled),
			}
		}
	}
	return st
}

func fromCreate(o *apigateway.CreateStageOutput) types.Stage {
	return types.Stage{
		StageName: o.StageName, DeploymentId: o.DeploymentId, Description: o.Description,
		CacheClusterEnabled: o.CacheClusterEnabled, CacheClusterSize: o.CacheClusterSize,
		MethodSettings: o.MethodSettings, Variables: o.Variables, TracingEnabled: o.TracingEnabled,
		Tags: o.Tags, WebAclArn: o.WebAclArn, CreatedDate: o.CreatedDate, LastUpdatedDate: o.LastUpdatedDate,
	}
}

func fromUpdate(o *apigateway.UpdateStageOutput) types.Stage {
	return types.Stage{
		StageName: o.StageName, DeploymentId: o.DeploymentId, Description: o.Description,
		CacheClusterEnabled: o.CacheClusterEnabled, CacheClusterSize: o.CacheClusterSize,
		MethodSettings: o.MethodSettings, Variables: o.Variables, TracingEnabled: o.TracingEnabled,
		Tags: o.Tags, WebAclArn: o.WebAclArn, CreatedDate: o.CreatedDate, LastUpdatedDate: o.LastUpdatedDate,
	}
}

func fromGet(o *apigateway.GetStageOutput) types.Stage {
	return types.Stage{
		StageName: o.StageName, DeploymentId: o.DeploymentId, Description: o.Description,
		CacheClusterEnabled: o.CacheClusterEnabled, CacheClusterSize: o.CacheClusterSize,
		MethodSettings: o.MethodSettings, Variables: o.Variables, TracingEnabled: o.TracingEnabled,
		Tags: o.Tags, WebAclArn: o.WebAclArn, CreatedDate: o.CreatedDate, LastUpdatedDate: o.LastUpdatedDate,
	}
}
