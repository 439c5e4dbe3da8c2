package objectstore

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Bucket:    "pipeline-snapshots",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.Bucket = ""
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for empty bucket")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ANIMUS_SNAPSHOT_ENDPOINT", "minio.local:9000")
	t.Setenv("ANIMUS_SNAPSHOT_ACCESS_KEY", "access")
	t.Setenv("ANIMUS_SNAPSHOT_SECRET_KEY", "secret")
	t.Setenv("ANIMUS_SNAPSHOT_USE_SSL", "false")
	t.Setenv("ANIMUS_SNAPSHOT_PREFIX", "/team-a/snapshots/")

	if !Enabled() {
		t.Fatalf("Enabled() = false with endpoint set")
	}
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.UseSSL || cfg.Bucket != "pipeline-snapshots" || cfg.Prefix != "team-a/snapshots" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestEnabledWithoutEndpoint(t *testing.T) {
	t.Setenv("ANIMUS_SNAPSHOT_ENDPOINT", "")
	if Enabled() {
		t.Fatalf("Enabled() = true without endpoint")
	}
}

func TestIsNotExist(t *testing.T) {
	if IsNotExist(nil) {
		t.Fatalf("nil is not a missing object")
	}
	if !IsNotExist(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}) {
		t.Fatalf("NoSuchKey should be a missing object")
	}
	if IsNotExist(errors.New("connection refused")) {
		t.Fatalf("transport errors are not missing objects")
	}
}
