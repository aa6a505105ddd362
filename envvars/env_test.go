package envvars

import (
	"os"
	"reflect"
	"testing"
)

func TestGetEnv(t *testing.T) {
	// Backup and defer restore of environment variables
	backup := os.Environ()
	defer func() {
		os.Clearenv()
		for _, env := range backup {
			pair := splitEnv(env)
			os.Setenv(pair[0], pair[1])
		}
	}()

	t.Run("all env vars set", func(t *testing.T) {
		os.Clearenv()
		os.Setenv(ProjectID, "test-project")
		os.Setenv(FirebaseAPIKey, "test_api_key")
		os.Setenv(DefaultsOwnerEmail, "owner@example.com")
		os.Setenv(Environment, "production")

		expected := Env{
			ProjectID:          "test-project",
			FirebaseAPIKey:     "test_api_key",
			DefaultsOwnerEmail: "owner@example.com",
			Environment:        ProductionEnv,
		}

		if got := GetEnv(); !reflect.DeepEqual(got, expected) {
			t.Errorf("GetEnv() = %v, want %v", got, expected)
		}
	})

	t.Run("environment defaults to dev", func(t *testing.T) {
		os.Clearenv()
		os.Setenv(ProjectID, "test-project")
		os.Setenv(FirebaseAPIKey, "test_api_key")

		got := GetEnv()
		if got.Environment != DevEnv {
			t.Errorf("Expected environment to default to dev, got %s", got.Environment)
		}
		if got.DefaultsOwnerEmail != "" {
			t.Errorf("Expected empty defaults owner email, got %s", got.DefaultsOwnerEmail)
		}
	})
}

func TestIsProd(t *testing.T) {
	tests := []struct {
		name string
		env  Env
		want bool
	}{
		{"production env", Env{Environment: ProductionEnv}, true},
		{"dev env", Env{Environment: DevEnv}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProd(tt.env); got != tt.want {
				t.Errorf("IsProd() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsDev(t *testing.T) {
	tests := []struct {
		name string
		env  Env
		want bool
	}{
		{"production env", Env{Environment: ProductionEnv}, false},
		{"dev env", Env{Environment: DevEnv}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDev(tt.env); got != tt.want {
				t.Errorf("IsDev() = %v, want %v", got, tt.want)
			}
		})
	}
}

func splitEnv(env string) []string {
	var s []string
	for i := 0; i < len(env); i++ {
		if env[i] == '=' {
			s = append(s, env[:i])
			s = append(s, env[i+1:])
			return s
		}
	}
	// Return slice with empty strings if no '=' is found
	return []string{"", ""}
}
