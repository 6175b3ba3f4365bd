package testhelper

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"go.uber.org/zap"
)

type RetryFunc func(res *dockertest.Resource) error

// Container describes the instance to run.
type Container struct {
	Repository   string
	Tag          string
	Env          []string
	CapAdd       []string
	ExposedPorts []string
	Sysctls      map[string]string
}

func IsIntegration() bool {
	return os.Getenv("TEST_INTEGRATION") == "true"
}

func StartDockerPool() *dockertest.Pool {
	pool, err := dockertest.NewPool("")
	if err != nil {
		zap.S().Fatalf("Could not construct pool: %v", err)
	}

	// uses pool to try to connect to Docker
	err = pool.Client.Ping()
	if err != nil {
		zap.S().Fatalf("Could not connect to Docker: %v", err)
	}
	return pool
}

func StartDockerInstance(pool *dockertest.Pool, c Container, retryFunc RetryFunc) *dockertest.Resource {
	// pulls an image, creates a container based on it and runs it
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository:   c.Repository,
		Tag:          c.Tag,
		Env:          c.Env,
		CapAdd:       c.CapAdd,
		ExposedPorts: c.ExposedPorts,
	}, func(config *docker.HostConfig) {
		// set AutoRemove to true so that stopped container goes away by itself
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
		config.PublishAllPorts = true
		if len(c.Sysctls) > 0 {
			config.Sysctls = c.Sysctls
		}
	})
	if err != nil {
		zap.S().Fatalf("Could not start resource: %v", err)
	}

	if err := resource.Expire(120); err != nil {
		zap.S().Fatalln("couldn't set the resource expiration")
	}

	if err := pool.Retry(func() error {
		return retryFunc(resource)
	}); err != nil {
		zap.S().Fatalln("Couldn't connect to the resource")
	}
	return resource
}

// Exec runs cmd inside the container and returns its trimmed stdout.
func Exec(res *dockertest.Resource, cmd ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	code, err := res.Exec(cmd, dockertest.ExecOptions{StdOut: &stdout, StdErr: &stderr})
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("%s: exit %d: %s", strings.Join(cmd, " "), code, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
