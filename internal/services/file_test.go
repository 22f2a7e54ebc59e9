package services

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fileshare/apiserver/internal/storage"
	"github.com/fileshare/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload_StoresBlobAndRecord(t *testing.T) {
	f := newFixture(t)
	ops := f.opsUser(t, "ops")
	data := []byte("PK\x03\x04 fake docx")

	file := f.upload(t, ops, "Quarterly Report.DOCX", data)

	assert.NotZero(t, file.ID)
	assert.Equal(t, "Quarterly Report.DOCX", file.OriginalName)
	assert.Equal(t, types.FileTypeDOCX, file.Type)
	assert.Equal(t, int64(len(data)), file.Size)
	assert.Equal(t, "ops", file.OwnerUsername)
	assert.True(t, strings.HasPrefix(file.BlobKey, "uploads/"))
	assert.True(t, strings.HasSuffix(file.BlobKey, ".docx"))

	stored, err := f.blobs.ReadAll(context.Background(), file.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)
	ops := f.opsUser(t, "ops")
	client := f.verifiedClient(t, "client")
	ctx := context.Background()

	_, err := f.files.Upload(ctx, client, "deck.pptx", 3, bytes.NewReader([]byte("abc")))
	require.ErrorIs(t, err, ErrForbidden)

	for _, name := range []string{"notes.txt", "archive.docx.exe", "noextension", "sheet.xls", ""} {
		_, err := f.files.Upload(ctx, ops, name, 3, bytes.NewReader([]byte("abc")))
		require.ErrorIs(t, err, ErrValidation, name)
	}

	_, err = f.files.Upload(ctx, ops, "big.xlsx", types.MaxFileSize+1, bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.files.Upload(ctx, ops, "empty.xlsx", 0, bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrValidation)

	files, err := f.files.List(ctx, client)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUpload_AcceptsMaxSize(t *testing.T) {
	f := newFixture(t)
	ops := f.opsUser(t, "ops")

	data := bytes.Repeat([]byte{'x'}, types.MaxFileSize)
	file := f.upload(t, ops, "limit.xlsx", data)
	assert.Equal(t, int64(types.MaxFileSize), file.Size)
}

type failingFileRepo struct {
	FileRepository
}

func (failingFileRepo) Create(context.Context, types.File) (types.File, error) {
	return types.File{}, errors.New("insert failed")
}

func TestUpload_RemovesBlobWhenRecordFails(t *testing.T) {
	root := t.TempDir()
	backend, err := storage.NewLocalClient(root)
	require.NoError(t, err)
	blobs := storage.NewStorage(backend)

	f := newFixture(t)
	ops := f.opsUser(t, "ops")

	svc := NewFileService(failingFileRepo{FileRepository: f.store.Files()}, blobs, nil)
	_, err = svc.Upload(context.Background(), ops, "deck.pptx", 4, bytes.NewReader([]byte("data")))
	require.Error(t, err)

	var leftovers []string
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			leftovers = append(leftovers, path)
		}
		return nil
	}))
	assert.Empty(t, leftovers)
}

func TestList_ClientOnlyNewestFirst(t *testing.T) {
	f := newFixture(t)
	ops := f.opsUser(t, "ops")
	client := f.verifiedClient(t, "client")
	ctx := context.Background()

	first := f.upload(t, ops, "a.docx", []byte("a"))
	second := f.upload(t, ops, "b.xlsx", []byte("bb"))

	_, err := f.files.List(ctx, ops)
	require.ErrorIs(t, err, ErrForbidden)

	files, err := f.files.List(ctx, client)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, second.ID, files[0].ID)
	assert.Equal(t, first.ID, files[1].ID)
	for _, file := range files {
		assert.Equal(t, "ops", file.OwnerUsername)
	}
}
