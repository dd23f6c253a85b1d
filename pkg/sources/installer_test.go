package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Angelice80/redletters/pkg/errs"
)

func writeLocalPack(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "verses.json"), []byte(`{"John.1.18":"`+text+`"}`), 0o644))
	return dir
}

func TestInstaller_InstallLocal_PermissiveLicenseSkipsEULA(t *testing.T) {
	src := writeLocalPack(t, "in the beginning")
	cat := NewCatalog([]SourcePack{{
		PackID: "sblgnt", Name: "SBLGNT", Version: "1.0.0", License: "CC-BY-SA-4.0",
		Role: RoleSpine, InstallSource: InstallLocal, Location: src,
	}})
	dataRoot := t.TempDir()
	inst := NewInstaller(dataRoot, cat, nil)

	got, err := inst.Install(context.Background(), "sblgnt", false, false)
	require.NoError(t, err)
	assert.Equal(t, "sblgnt", got.PackID)
	assert.NotEmpty(t, got.ContentHash)
	assert.Equal(t, 1, got.FileCount)
	assert.Nil(t, got.EulaAcceptedAt, "permissive license must not set eula_accepted_at")

	installed, err := inst.IsInstalled("sblgnt")
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestInstaller_EulaRequiredByDefault(t *testing.T) {
	src := writeLocalPack(t, "text")
	cat := NewCatalog([]SourcePack{{
		PackID: "proprietary", Name: "Proprietary Edition", Version: "1.0.0", License: "Commercial",
		Role: RoleComparative, InstallSource: InstallLocal, Location: src,
	}})
	inst := NewInstaller(t.TempDir(), cat, nil)

	_, err := inst.Install(context.Background(), "proprietary", false, false)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindEulaRequired, e.Kind)

	got, err := inst.Install(context.Background(), "proprietary", true, false)
	require.NoError(t, err)
	require.NotNil(t, got.EulaAcceptedAt)
}

func TestInstaller_UnknownLicenseFailsClosed(t *testing.T) {
	pack := SourcePack{PackID: "mystery", License: "SomeWeirdLicense-1.0"}
	assert.True(t, pack.RequiresEULA())
}

func TestInstaller_SourceNotFound(t *testing.T) {
	inst := NewInstaller(t.TempDir(), NewCatalog(nil), nil)
	_, err := inst.Install(context.Background(), "nope", true, false)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindSourceNotFound, e.Kind)
}

func TestInstaller_UninstallRemovesFilesAndEntry(t *testing.T) {
	src := writeLocalPack(t, "text")
	cat := NewCatalog([]SourcePack{{
		PackID: "p1", License: "MIT", InstallSource: InstallLocal, Location: src,
	}})
	inst := NewInstaller(t.TempDir(), cat, nil)
	installed, err := inst.Install(context.Background(), "p1", false, false)
	require.NoError(t, err)

	require.NoError(t, inst.Uninstall("p1"))
	_, statErr := os.Stat(installed.InstallPath)
	assert.True(t, os.IsNotExist(statErr))

	ok, err := inst.IsInstalled("p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInstaller_RejectsNonSemverVersion(t *testing.T) {
	src := writeLocalPack(t, "text")
	cat := NewCatalog([]SourcePack{{
		PackID: "badver", Name: "Bad Version", Version: "release-candidate-one", License: "MIT",
		InstallSource: InstallLocal, Location: src,
	}})
	inst := NewInstaller(t.TempDir(), cat, nil)

	_, err := inst.Install(context.Background(), "badver", false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid semver")
}

func TestInstaller_ContentHashStableAcrossRuns(t *testing.T) {
	src := writeLocalPack(t, "stable")
	cat := NewCatalog([]SourcePack{{PackID: "p1", License: "MIT", InstallSource: InstallLocal, Location: src}})

	inst1 := NewInstaller(t.TempDir(), cat, nil)
	got1, err := inst1.Install(context.Background(), "p1", false, false)
	require.NoError(t, err)

	inst2 := NewInstaller(t.TempDir(), cat, nil)
	got2, err := inst2.Install(context.Background(), "p1", false, false)
	require.NoError(t, err)

	assert.Equal(t, got1.ContentHash, got2.ContentHash)
}
