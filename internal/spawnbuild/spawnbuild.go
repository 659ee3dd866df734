// Package spawnbuild is the broker's subprocess argv/prompt builder —
// another external collaborator the spec characterizes only by contract
// ("platform-specific; returns an argv vector and a prompt string to
// write on the child's stdin"). Grounded on
// original_source/platform_spawn.py.
package spawnbuild

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/gsd-tools/review-broker/internal/config"
)

// ClaimGenerationNote is interpolated into the prompt template so spawned
// reviewers know to echo claim_generation back on submit_verdict.
const ClaimGenerationNote = "Remember to pass claim_generation back on submit_verdict; it is the fencing token proving your claim is still current."

// DetectPlatform mirrors platform_spawn.py's detect_platform: "windows" or
// "native".
func DetectPlatform() string {
	if runtime.GOOS == "windows" {
		return "windows"
	}
	return "native"
}

// BuildArgv composes the subprocess argv vector for reviewerID under cfg.
// On non-Windows platforms this returns a direct codex invocation; on
// Windows it wraps the same invocation in a WSL shell, matching
// platform_spawn.py's build_codex_argv.
func BuildArgv(cfg *config.PoolConfig, reviewerID string) []string {
	inner := []string{
		"codex", "exec",
		"--model", cfg.Model,
	}
	if cfg.ReasoningEffort != "" {
		inner = append(inner, "--reasoning-effort", cfg.ReasoningEffort)
	}
	inner = append(inner, "--cd", cfg.WorkspacePath)

	if DetectPlatform() != "windows" {
		return inner
	}

	distro := cfg.WSLDistro
	if distro == "" {
		distro = "Ubuntu"
	}
	script := fmt.Sprintf("cd %s; exec %s", shellQuote(cfg.WorkspacePath), strings.Join(quoteAll(inner), " "))
	return []string{"wsl", "-d", distro, "--", "bash", "-lc", script}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteAll(parts []string) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = shellQuote(p)
	}
	return out
}

var placeholderRe = regexp.MustCompile(`\{[a-zA-Z_]+\}`)

// LoadPromptTemplate reads templatePath and substitutes {reviewer_id} and
// {claim_generation_note}. Any placeholder left unresolved after
// substitution is an error, per platform_spawn.py's load_prompt_template.
func LoadPromptTemplate(templatePath, reviewerID string) (string, error) {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return "", fmt.Errorf("read prompt template %s: %w", templatePath, err)
	}

	rendered := strings.NewReplacer(
		"{reviewer_id}", reviewerID,
		"{claim_generation_note}", ClaimGenerationNote,
	).Replace(string(raw))

	if m := placeholderRe.FindString(rendered); m != "" {
		return "", fmt.Errorf("prompt template %s has unresolved placeholder %s", templatePath, m)
	}
	return rendered, nil
}

// ResolvePromptTemplatePath tries, in order: an explicit hard override, the
// configured path relative to the current directory, then relative to the
// workspace and its tools/gsd-review-broker/ subdirectory — grounded on
// pool.py's _resolve_prompt_template_path.
func ResolvePromptTemplatePath(hardOverride, configured, workspacePath string) (string, error) {
	if hardOverride != "" {
		return hardOverride, nil
	}
	candidates := []string{
		configured,
		joinIfRelative(workspacePath, configured),
		joinIfRelative(workspacePath, "tools/gsd-review-broker/"+configured),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("prompt template %q not found relative to cwd or workspace %q", configured, workspacePath)
}

func joinIfRelative(base, path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + path
}
