// Package verify enforces project-level structural invariants.
//
// These tests catch categories of rot that unit tests cannot see:
//   - Packages that compile and pass their own tests but are never
//     imported by running code
//   - Interfaces satisfied only by no-op implementations, so a feature
//     passes every gate while doing nothing
//
// Migration-specific checks (TestMigrationTablesHaveConsumers) live in
// pkg/database/migrate/ because they depend on the embedded migration FS.
//
// Run: go test -run 'TestNoDeadPackages|TestNoopOnlyInterfaces' .
package mcp_sql_gateway_test

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/caremetrix/mcp-sql-gateway"

// sourceDirs are the roots scanned for both package discovery and
// import references. Test files never count as consumers.
var sourceDirs = []string{"pkg", "internal", "cmd"}

// collectPackages returns the import path of every directory under the
// given roots that holds at least one non-test Go file, mapped to false
// until an importer is found.
func collectPackages(projectRoot string, roots []string) (map[string]bool, error) {
	packages := map[string]bool{}
	for _, root := range roots {
		rootDir := filepath.Join(projectRoot, root)
		if _, err := os.Stat(rootDir); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !d.IsDir() {
				return nil
			}
			hasSource, srcErr := hasGoSource(path)
			if srcErr != nil {
				return srcErr
			}
			if !hasSource {
				return nil
			}
			rel, relErr := filepath.Rel(projectRoot, path)
			if relErr != nil {
				return fmt.Errorf("relative path for %s: %w", path, relErr)
			}
			packages[modulePath+"/"+filepath.ToSlash(rel)] = false
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", rootDir, err)
		}
	}
	return packages, nil
}

// hasGoSource reports whether dir contains at least one non-test Go file.
func hasGoSource(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".go") && !strings.HasSuffix(e.Name(), "_test.go") {
			return true, nil
		}
	}
	return false, nil
}

// markImports scans non-test Go files under the given roots and flips
// packages to true when an import references them.
func markImports(projectRoot string, roots []string, packages map[string]bool) error {
	importRe := regexp.MustCompile(`"(` + regexp.QuoteMeta(modulePath) + `/[^"]+)"`)
	return walkGoSource(projectRoot, roots, func(path string, content []byte) error {
		for _, match := range importRe.FindAllStringSubmatch(string(content), -1) {
			if _, known := packages[match[1]]; known {
				packages[match[1]] = true
			}
		}
		return nil
	})
}

// walkGoSource invokes fn with the contents of every non-test Go file
// under the given roots.
func walkGoSource(projectRoot string, roots []string, fn func(path string, content []byte) error) error {
	for _, root := range roots {
		rootDir := filepath.Join(projectRoot, root)
		if _, err := os.Stat(rootDir); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".go") || strings.HasSuffix(d.Name(), "_test.go") {
				return nil
			}
			content, readErr := os.ReadFile(path) //nolint:gosec // test reads source files
			if readErr != nil {
				return fmt.Errorf("reading %s: %w", path, readErr)
			}
			return fn(path, content)
		})
		if err != nil {
			return fmt.Errorf("scanning %s: %w", rootDir, err)
		}
	}
	return nil
}

// TestNoDeadPackages verifies that every package under pkg/ and
// internal/ is imported by at least one non-test file somewhere in the
// project. A package nothing imports is dead weight: it compiles,
// passes its own tests, and never runs in the gateway.
func TestNoDeadPackages(t *testing.T) {
	projectRoot, err := filepath.Abs(".")
	require.NoError(t, err)

	packages, err := collectPackages(projectRoot, []string{"pkg", "internal"})
	require.NoError(t, err)
	require.NotEmpty(t, packages)

	require.NoError(t, markImports(projectRoot, sourceDirs, packages))

	for pkg, imported := range packages {
		assert.True(t, imported,
			"package %q contains Go source files but is never imported by any non-test code. "+
				"Either wire it into the gateway or delete it.", pkg)
	}
}

// interfaceImpl records a concrete type asserting interface compliance
// via `var _ InterfaceName = (*TypeName)(nil)`.
type interfaceImpl struct {
	iface    string
	typeName string
}

// isNoopType reports whether a type name indicates a no-op implementation.
func isNoopType(name string) bool {
	return strings.Contains(strings.ToLower(name), "noop")
}

// TestNoopOnlyInterfaces verifies that every interface with a noop
// implementation also has at least one real implementation in non-test
// source. A noop satisfies compile checks, unit tests, and the import
// gate above while the behavior it stands in for never executes.
//
// If this test fails, either write the real implementation or remove
// the feature that depends on it.
func TestNoopOnlyInterfaces(t *testing.T) {
	projectRoot, err := filepath.Abs(".")
	require.NoError(t, err)

	implRe := regexp.MustCompile(`var\s+_\s+(\S+)\s*=\s*\(\*(\w+)\)\(nil\)`)

	var impls []interfaceImpl
	err = walkGoSource(projectRoot, []string{"pkg"}, func(_ string, content []byte) error {
		for _, match := range implRe.FindAllStringSubmatch(string(content), -1) {
			impls = append(impls, interfaceImpl{iface: match[1], typeName: match[2]})
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, impls, "should find interface compliance assertions in pkg/")

	byInterface := make(map[string][]interfaceImpl)
	for _, impl := range impls {
		byInterface[impl.iface] = append(byInterface[impl.iface], impl)
	}

	for iface, implList := range byInterface {
		hasNoop := false
		hasReal := false
		for _, impl := range implList {
			if isNoopType(impl.typeName) {
				hasNoop = true
			} else {
				hasReal = true
			}
		}
		if !hasNoop {
			continue
		}
		typeNames := make([]string, 0, len(implList))
		for _, impl := range implList {
			typeNames = append(typeNames, impl.typeName)
		}
		assert.True(t, hasReal,
			"interface %q has only noop implementation(s) %v, so the behavior it guards never runs. "+
				"Either implement it for real or remove the feature that depends on it.",
			iface, typeNames)
	}
}
