package devotion_test

import (
	"os"
	"strings"
	"testing"
)

func readRootFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("%s が読めません: %v", name, err)
	}
	return string(data)
}

func TestDockerfile(t *testing.T) {
	content := readRootFile(t, "Dockerfile")

	var stages []string
	for _, line := range strings.Split(content, "\n") {
		if l := strings.TrimSpace(line); strings.HasPrefix(l, "FROM ") {
			stages = append(stages, l)
		}
	}
	if len(stages) < 2 || !strings.Contains(stages[0], "golang:") {
		t.Fatalf("Goのビルドステージを持つマルチステージビルドであること: %v", stages)
	}
	if last := stages[len(stages)-1]; !strings.Contains(last, "distroless") {
		t.Errorf("最終ステージはdistrolessであること: %s", last)
	}

	for _, want := range []string{
		"./cmd/devotion",
		`ENTRYPOINT ["/devotion"]`,
		// distrolessにはシェルがないため、バイナリ自身のサブコマンドで確認する
		`"/devotion", "healthcheck"`,
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Dockerfileに %q がない", want)
		}
	}
}

func TestDockerCompose(t *testing.T) {
	content := readRootFile(t, "docker-compose.yml")

	for _, want := range []string{
		"db:", "redis:", "migrate:", "api:", "worker:",
		`command: ["migrate"]`,
		`command: ["worker"]`,
		"service_completed_successfully",
		"REDIS_URL: redis://redis:6379/0",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("docker-compose.ymlに %q がない", want)
		}
	}
}

func TestDockerCompose_BackendNetworkIsInternal(t *testing.T) {
	content := readRootFile(t, "docker-compose.yml")

	i := strings.Index(content, "\nnetworks:")
	if i < 0 {
		t.Fatal("トップレベルのnetworks定義がない")
	}
	networks := content[i:]
	if !strings.Contains(networks, "backend:\n    internal: true") {
		t.Error("backendネットワークはinternal: trueであること")
	}
	if !strings.Contains(networks, "external:") {
		t.Error("送信用のexternalネットワークがない")
	}
}
