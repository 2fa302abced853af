package docker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asottile/dockerfile"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/mikeydub/comment-references/service/redis"
)

// N.B. This isn't the entire Docker Compose spec...
type ComposeFile struct {
	Version  string             `yaml:"version"`
	Services map[string]Service `yaml:"services"`
}

type Service struct {
	Image       string                 `yaml:"image"`
	Ports       []string               `yaml:"ports"`
	Build       map[string]interface{} `yaml:"build"`
	Environment []string               `yaml:"environment"`
	Command     string                 `yaml:"command"`
}

func configureContainerCleanup(config *docker.HostConfig) {
	config.AutoRemove = true
	config.RestartPolicy = docker.RestartPolicy{Name: "no"}
}

func waitOnDB() error {
	db, err := sql.Open(
		"pgx",
		fmt.Sprintf("host=%s port=%d user=%s dbname=%s",
			viper.GetString("POSTGRES_HOST"),
			viper.GetInt("POSTGRES_PORT"),
			viper.GetString("POSTGRES_USER"),
			viper.GetString("POSTGRES_DB"),
		),
	)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Ping()
}

func waitOnCache() error {
	cache := redis.NewCache(redis.LoaderCache)
	defer cache.Close()
	return cache.Client().Ping(context.Background()).Err()
}

func loadComposeFile(path string) (f ComposeFile, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	err = yaml.Unmarshal(data, &f)
	return f, err
}

func getImageAndVersion(s string) ([]string, error) {
	imgAndVer := strings.Split(s, ":")
	if len(imgAndVer) != 2 {
		return nil, errors.New("no version specified for image")
	}
	return imgAndVer, nil
}

func getBuildImage(composePath string, s Service) ([]string, error) {
	name, _ := s.Build["dockerfile"].(string)
	contextDir, _ := s.Build["context"].(string)
	dockerPath := filepath.Join(filepath.Dir(composePath), contextDir, name)

	res, err := dockerfile.ParseFile(dockerPath)
	if err != nil {
		return nil, err
	}

	for _, cmd := range res {
		if cmd.Cmd == "FROM" {
			return getImageAndVersion(cmd.Value[0])
		}
	}

	return nil, errors.New("no `FROM` directive found in dockerfile")
}

func newPool() (*dockertest.Pool, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("could not connect to docker: %w", err)
	}
	pool.MaxWait = 3 * time.Minute
	return pool, nil
}

// InitPostgres starts the postgres service from the compose file at composePath and points the
// POSTGRES_* settings at it
func InitPostgres(composePath string) (*dockertest.Resource, error) {
	pool, err := newPool()
	if err != nil {
		return nil, err
	}

	absPath, _ := filepath.Abs(composePath)
	apps, err := loadComposeFile(absPath)
	if err != nil {
		return nil, err
	}

	imgAndVer, err := getBuildImage(absPath, apps.Services["postgres"])
	if err != nil {
		return nil, err
	}

	pg, err := pool.RunWithOptions(
		&dockertest.RunOptions{
			Repository: imgAndVer[0],
			Tag:        imgAndVer[1],
			Env:        apps.Services["postgres"].Environment,
		}, configureContainerCleanup,
	)
	if err != nil {
		return nil, fmt.Errorf("could not start postgres: %w", err)
	}

	// Patch environment to use container
	hostAndPort := strings.Split(pg.GetHostPort("5432/tcp"), ":")
	viper.Set("POSTGRES_HOST", hostAndPort[0])
	viper.Set("POSTGRES_PORT", hostAndPort[1])
	viper.Set("POSTGRES_USER", "postgres")
	viper.Set("POSTGRES_PASSWORD", "")
	viper.Set("POSTGRES_DB", "postgres")
	viper.Set("ENV", "local")

	if err = pool.Retry(waitOnDB); err != nil {
		pool.Purge(pg)
		return nil, fmt.Errorf("could not connect to postgres: %w", err)
	}

	return pg, nil
}

// InitRedis starts the redis service from the compose file at composePath and points REDIS_URL at it
func InitRedis(composePath string) (*dockertest.Resource, error) {
	pool, err := newPool()
	if err != nil {
		return nil, err
	}

	apps, err := loadComposeFile(composePath)
	if err != nil {
		return nil, err
	}

	imgAndVer, err := getImageAndVersion(apps.Services["redis"].Image)
	if err != nil {
		return nil, err
	}

	rd, err := pool.RunWithOptions(
		&dockertest.RunOptions{
			Repository: imgAndVer[0],
			Tag:        imgAndVer[1],
		}, configureContainerCleanup,
	)
	if err != nil {
		return nil, fmt.Errorf("could not start redis: %w", err)
	}

	// Patch environment to use container
	viper.Set("REDIS_URL", rd.GetHostPort("6379/tcp"))
	if err = pool.Retry(waitOnCache); err != nil {
		pool.Purge(rd)
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}

	return rd, nil
}
