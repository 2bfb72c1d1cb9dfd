package mirror

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data []byte
	meta map[string]string
}

// fakeS3 implements S3API and Uploader over a map.
type fakeS3 struct {
	objects map[string]fakeObject
	uploads int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string]fakeObject)} }

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(obj.data))), Metadata: obj.meta}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != "backups" {
		return nil, errors.New("no such bucket")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, meta: in.Metadata}
	f.uploads++
	return &manager.UploadOutput{}, nil
}

func TestS3Mirror_Sync(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	m := NewS3MirrorWithClient(fake, fake, "backups", "host1")
	artifact := writeArtifact(t, t.TempDir(), "app_20240115_103000_full.tar.gz", "payload")

	copied, err := m.Sync(ctx, "projects/app", artifact)
	if err != nil || !copied {
		t.Fatalf("Sync() = %v, %v; want true, nil", copied, err)
	}
	obj, ok := fake.objects["host1/projects/app/app_20240115_103000_full.tar.gz"]
	if !ok {
		t.Fatalf("object not stored under prefixed key; have %v", fake.objects)
	}
	if obj.meta[checksumMetaKey] == "" {
		t.Error("checksum metadata not set")
	}

	copied, err = m.Sync(ctx, "projects/app", artifact)
	if err != nil {
		t.Fatal(err)
	}
	if copied || fake.uploads != 1 {
		t.Errorf("identical object re-uploaded (uploads = %d)", fake.uploads)
	}

	writeArtifact(t, filepath.Dir(artifact), "app_20240115_103000_full.tar.gz", "PAYLOAD")
	if copied, _ := m.Sync(ctx, "projects/app", artifact); !copied {
		t.Error("changed content should be uploaded")
	}
}

func TestS3Mirror_DeleteAndValidate(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	m := NewS3MirrorWithClient(fake, fake, "backups", "")
	fake.objects["projects/app/x.tar.gz"] = fakeObject{data: []byte("x")}

	if err := m.Delete(ctx, "projects/app", "x.tar.gz"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := fake.objects["projects/app/x.tar.gz"]; ok {
		t.Error("object still present after Delete")
	}
	if err := m.ValidateSetup(ctx); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
	if err := NewS3MirrorWithClient(fake, fake, "other", "").ValidateSetup(ctx); err == nil {
		t.Error("ValidateSetup() should fail for unknown bucket")
	}
}
