// Package main implements the admin key tool for the adoption notifier.
//
// It generates a random admin API key, bcrypt-hashes it, and either prints
// both or stores the hash in SSM Parameter Store for the deployed API.
//
// Usage:
//
//	go run ./cmd/ops/adminkey                        # print key and hash
//	go run ./cmd/ops/adminkey --env=dev --write      # store hash in SSM
//	go run ./cmd/ops/adminkey --env=prod --write --overwrite --profile=hh-prod
//
// The plaintext key is printed once on stdout and is never stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// options holds the parsed command-line flags.
type options struct {
	Env       string
	Profile   string
	Region    string
	Write     bool
	Overwrite bool
}

func main() {
	var opts options
	flag.StringVar(&opts.Env, "env", "", "Target environment (dev/staging/prod), required with --write")
	flag.StringVar(&opts.Profile, "profile", "", "AWS CLI profile (default: uses default credential chain)")
	flag.StringVar(&opts.Region, "region", "ap-southeast-2", "AWS region")
	flag.BoolVar(&opts.Write, "write", false, "Store the hash in SSM instead of only printing it")
	flag.BoolVar(&opts.Overwrite, "overwrite", false, "Replace an existing hash (key rotation)")
	flag.Parse()

	if err := validateOptions(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var ssmManager *SSMManager
	if opts.Write {
		awsCfg, err := initializeSession(ctx, opts, logger)
		if err != nil {
			logger.Error("initialization failed", "error", err)
			os.Exit(1)
		}
		ssmManager = NewSSMManager(ssm.NewFromConfig(awsCfg), opts.Env, logger)
	}

	if err := generate(ctx, os.Stdout, ssmManager, opts.Overwrite); err != nil {
		logger.Error("admin key generation failed", "error", err)
		os.Exit(1)
	}
}

func validateOptions(opts options) error {
	if !opts.Write {
		return nil
	}
	if opts.Env == "" {
		return fmt.Errorf("--env is required with --write")
	}
	if !validEnvironments[opts.Env] {
		return fmt.Errorf("invalid environment %q (must be dev, staging, or prod)", opts.Env)
	}
	return nil
}

// generate creates a key and its hash. With a manager the hash is written to
// SSM; the key is always printed to out since it cannot be recovered later.
func generate(ctx context.Context, out io.Writer, m *SSMManager, overwrite bool) error {
	key, err := GenerateSecureToken()
	if err != nil {
		return err
	}
	hash, err := HashAdminKey(key, 0)
	if err != nil {
		return err
	}

	if m != nil {
		if err := m.PutSecret(ctx, m.SSMPath(adminKeyHashParam), hash, overwrite); err != nil {
			return err
		}
		fmt.Fprintf(out, "X-Admin-Key: %s\n", key)
		return nil
	}

	fmt.Fprintf(out, "X-Admin-Key:    %s\n", key)
	fmt.Fprintf(out, "ADMIN_KEY_HASH: %s\n", hash)
	return nil
}

// initializeSession loads AWS configuration and confirms the active identity
// before anything is written.
func initializeSession(ctx context.Context, opts options, logger *slog.Logger) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, identityCancel := context.WithTimeout(ctx, 10*time.Second)
	defer identityCancel()

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return aws.Config{}, fmt.Errorf("verifying AWS identity (STS GetCallerIdentity): %w", err)
	}

	logger.Info("AWS identity verified",
		"account_id", aws.ToString(identity.Account),
		"arn", aws.ToString(identity.Arn),
		"region", opts.Region,
		"env", opts.Env,
	)
	return cfg, nil
}
