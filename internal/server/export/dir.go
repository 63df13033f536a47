package export

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/codetime/internal/filex"
)

// DirPutter stores objects as files under Root, for exports without
// object storage. Bucket is ignored.
type DirPutter struct {
	Root string
}

func (p DirPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if in.Body == nil {
		return nil, fmt.Errorf("empty body")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if _, err := filex.WriteUnder(p.Root, aws.ToString(in.Key), data); err != nil {
		return nil, err
	}
	return &s3.PutObjectOutput{}, nil
}
