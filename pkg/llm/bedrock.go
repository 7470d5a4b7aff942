package llm

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// bedrockProvider backs the aws tag. It reuses the Anthropic SDK with the
// Bedrock backend: bedrock.WithConfig handles SigV4 signing and endpoint
// resolution, so Generate is shared with the anthropic provider's shape.
type bedrockProvider struct {
	inner *anthropicProvider
}

func newBedrockProvider(region, modelID string) (*bedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &bedrockProvider{
		inner: &anthropicProvider{
			tag:    "aws",
			client: anthropic.NewClient(bedrock.WithConfig(awsCfg)),
			model:  modelID,
		},
	}, nil
}

func (p *bedrockProvider) Tag() string { return "aws" }

func (p *bedrockProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	return p.inner.Generate(ctx, req)
}
