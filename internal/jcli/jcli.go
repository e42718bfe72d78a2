// Package jcli wraps the jcli command-line tool used to create node keys,
// genesis blocks and vote plan certificates.
package jcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// SecretTypeEd25519 is the key type used for node signing and network keys.
const SecretTypeEd25519 = "ed25519"

var ErrEmptyOutput = errors.New("jcli produced no output")

type JCli struct {
	bin string
}

func New(bin string) *JCli {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		bin = "jcli"
	}
	return &JCli{bin: bin}
}

func (j *JCli) Bin() string {
	return j.bin
}

// GenerateSecret runs `jcli key generate --type <kind>`.
func (j *JCli) GenerateSecret(ctx context.Context, kind string) (string, error) {
	if strings.TrimSpace(kind) == "" {
		kind = SecretTypeEd25519
	}
	return j.output(ctx, nil, "key", "generate", "--type", kind)
}

// DerivePublic runs `jcli key to-public` with the secret on stdin.
func (j *JCli) DerivePublic(ctx context.Context, secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret key is required")
	}
	return j.output(ctx, strings.NewReader(secret), "key", "to-public")
}

// GenesisEncode builds block0 from a genesis document.
func (j *JCli) GenesisEncode(ctx context.Context, genesisPath, block0Path string) error {
	_, err := j.run(ctx, nil, "genesis", "encode", "--input", genesisPath, "--output", block0Path)
	return err
}

// GenesisHash returns the hash of the block0 file.
func (j *JCli) GenesisHash(ctx context.Context, block0Path string) (string, error) {
	return j.output(ctx, nil, "genesis", "hash", "--input", block0Path)
}

// VotePlanCertificate turns a vote plan definition into a signed certificate.
func (j *JCli) VotePlanCertificate(ctx context.Context, definitionPath string) (string, error) {
	return j.output(ctx, nil, "certificate", "new", "vote-plan", definitionPath)
}

// output runs the tool and requires a non-empty first line of stdout.
func (j *JCli) output(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	out, err := j.run(ctx, stdin, args...)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("jcli %s: %w", command(args), ErrEmptyOutput)
	}
	return line, nil
}

func (j *JCli) run(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, j.bin, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("jcli %s failed: %w: %s", command(args), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// command names the subcommand without arguments that may carry paths.
func command(args []string) string {
	if len(args) > 2 {
		args = args[:2]
	}
	return strings.Join(args, " ")
}
