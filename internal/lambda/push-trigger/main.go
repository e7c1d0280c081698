package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/di"
	"github.com/savaki/site-deployer/internal/gitref"
	"github.com/savaki/site-deployer/internal/services"
	"github.com/urfave/cli/v2"
)

const signatureHeader = "X-Hub-Signature-256"

// builderAPI is the slice of the CodeBuild client the handler uses.
type builderAPI interface {
	StartBuild(ctx context.Context, params *codebuild.StartBuildInput, optFns ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
}

// pushEvent is the subset of a GitHub push payload the trigger reads.
type pushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Handler verifies push webhooks and starts the pipeline build for pushes
// the resolver accepts.
type Handler struct {
	secret   []byte
	resolver *gitref.Resolver
	builder  builderAPI
	config   *services.Config
}

func NewHandler(ctx context.Context, env string) (*Handler, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var paramStore services.ParameterStore
	if os.Getenv("DISABLE_SSM") == "true" {
		paramStore = services.NewEnvParameterStore(env)
	} else {
		paramStore = services.NewSSMParameterStore(di.ProvideSSMClient(cfg), env)
	}

	config, err := paramStore.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if config.BuildProject == "" {
		return nil, fmt.Errorf("build-project parameter is required")
	}

	secrets := services.NewSecretsService(secretsmanager.NewFromConfig(cfg))
	secret, err := secrets.GetWebhookSecret(ctx, config.WebhookSecretName)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook secret: %w", err)
	}

	return &Handler{
		secret:   secret,
		resolver: gitref.New(config.MainlineBranch),
		builder:  codebuild.NewFromConfig(cfg),
		config:   config,
	}, nil
}

// HandleWebhook processes one push webhook delivery.
func (h *Handler) HandleWebhook(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := zerolog.Ctx(ctx)

	body := []byte(request.Body)
	if request.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(request.Body)
		if err != nil {
			return respond(http.StatusBadRequest, "invalid body encoding"), nil
		}
		body = decoded
	}

	signature := request.Headers[signatureHeader]
	if signature == "" {
		signature = request.Headers[strings.ToLower(signatureHeader)]
	}
	if !verifySignature(h.secret, body, signature) {
		logger.Warn().Msg("Rejected webhook with bad signature")
		return respond(http.StatusUnauthorized, "signature mismatch"), nil
	}

	var event pushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return respond(http.StatusBadRequest, "invalid push payload"), nil
	}

	branch, err := h.resolver.ShortName(event.Ref)
	if err != nil {
		return respond(http.StatusBadRequest, fmt.Sprintf("unsupported ref %q", event.Ref)), nil
	}

	if deploy, reason := h.decide(event, branch); !deploy {
		logger.Info().
			Str("ref", event.Ref).
			Str("reason", reason).
			Msg("Push acknowledged without deployment")
		return respond(http.StatusOK, reason), nil
	}

	buildID, err := h.startBuild(ctx, event)
	if err != nil {
		logger.Error().Err(err).Str("ref", event.Ref).Msg("Failed to start pipeline build")
		return respond(http.StatusBadGateway, "failed to start build"), nil
	}

	logger.Info().
		Str("ref", event.Ref).
		Str("commit", event.After).
		Str("build_id", buildID).
		Str("repo", event.Repository.FullName).
		Msg("Started pipeline build")
	return respond(http.StatusAccepted, buildID), nil
}

// decide reports whether a push should trigger a deployment.
func (h *Handler) decide(event pushEvent, branch string) (bool, string) {
	switch {
	case event.Deleted:
		return false, "ignored: branch deletion"
	case branch == h.resolver.Mainline():
		return true, ""
	case h.config.PreviewDeploys:
		return true, ""
	default:
		return false, fmt.Sprintf("ignored: branch %s is not %s", branch, h.resolver.Mainline())
	}
}

func (h *Handler) startBuild(ctx context.Context, event pushEvent) (string, error) {
	out, err := h.builder.StartBuild(ctx, &codebuild.StartBuildInput{
		ProjectName:   aws.String(h.config.BuildProject),
		SourceVersion: aws.String(event.After),
		EnvironmentVariablesOverride: []types.EnvironmentVariable{
			{
				Name:  aws.String("DEPLOY_REF"),
				Value: aws.String(event.Ref),
				Type:  types.EnvironmentVariableTypePlaintext,
			},
			{
				Name:  aws.String("DEPLOY_COMMIT"),
				Value: aws.String(event.After),
				Type:  types.EnvironmentVariableTypePlaintext,
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Build.Id), nil
}

// verifySignature checks a GitHub-style sha256 HMAC signature header.
func verifySignature(secret, body []byte, header string) bool {
	const prefix = "sha256="
	if len(secret) == 0 || !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

func respond(status int, message string) events.APIGatewayProxyResponse {
	payload, _ := json.Marshal(map[string]string{"message": message})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(payload),
	}
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "push-trigger").Logger()

	env := os.Getenv("ENV")
	if env == "" {
		env = "dev"
	}

	ctx := logger.WithContext(context.Background())
	handler, err := NewHandler(ctx, env)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create handler")
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		// Wrap handler to inject logger into context
		wrappedHandler := func(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			ctx = logger.WithContext(ctx)
			return handler.HandleWebhook(ctx, request)
		}
		lambda.Start(wrappedHandler)
		return
	}

	app := &cli.App{
		Name:  "push-trigger",
		Usage: "Simulate a push webhook to trigger the pipeline build",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "ref",
				Usage:    "Pushed git reference (e.g. refs/heads/main)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "commit",
				Usage:    "Commit hash of the push head",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "repo",
				Usage: "Repository full name",
				Value: "local/simulated",
			},
		},
		Action: func(c *cli.Context) error {
			event := pushEvent{
				Ref:   c.String("ref"),
				After: c.String("commit"),
			}
			event.Repository.FullName = c.String("repo")

			body, err := json.Marshal(event)
			if err != nil {
				return err
			}

			mac := hmac.New(sha256.New, handler.secret)
			mac.Write(body)
			request := events.APIGatewayProxyRequest{
				Body: string(body),
				Headers: map[string]string{
					signatureHeader: "sha256=" + hex.EncodeToString(mac.Sum(nil)),
				},
			}

			response, err := handler.HandleWebhook(ctx, request)
			if err != nil {
				return err
			}
			fmt.Printf("%d %s\n", response.StatusCode, response.Body)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
