package dicomload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/dicomtag"
	"github.com/suyashkumar/dicom/element"
	"github.com/suyashkumar/dicom/write"
	"golang.org/x/sync/errgroup"

	"ct2egsphant/internal/models"
)

// ImplicitLittleEndian is the transfer syntax of stripped copies, the only
// one ctcreate reads.
const ImplicitLittleEndian = "1.2.840.10008.1.2"

// stripDataSet returns the elements of ds without private tags, with the
// transfer syntax switched to implicit VR little endian.
func stripDataSet(ds *element.DataSet) (*element.DataSet, error) {
	out := &element.DataSet{}
	for _, elem := range ds.Elements {
		switch {
		case elem.Tag.Group%2 == 1:
			continue
		case elem.Tag == dicomtag.TransferSyntaxUID:
			elem = element.MustNewElement(dicomtag.TransferSyntaxUID, ImplicitLittleEndian)
		case elem.Tag == dicomtag.PixelData:
			if len(elem.Value) > 0 {
				if info, ok := elem.Value[0].(element.PixelDataInfo); ok && info.IsEncapsulated {
					return nil, fmt.Errorf("encapsulated pixel data is not supported")
				}
			}
		}
		out.Elements = append(out.Elements, elem)
	}
	return out, nil
}

// safelyWrite turns panics raised by the dicom writer into errors.
func safelyWrite(f *os.File, ds *element.DataSet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dicom writer: %v", r)
		}
	}()
	return write.DataSet(f, ds, write.SkipVRVerification)
}

// Strip copies the DICOM file src to dst without private elements and
// re-encoded as implicit VR little endian. dst is replaced atomically.
func Strip(src, dst string) (err error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	p, err := dicom.NewParserFromBytes(data, nil)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", src, err)
	}
	ds, err := safelyParse(p)
	if ds == nil || err != nil {
		return fmt.Errorf("parsing %s: %v", src, err)
	}
	stripped, err := stripDataSet(ds)
	if err != nil {
		return fmt.Errorf("stripping %s: %w", src, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = safelyWrite(tmp, stripped); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// StripSeries writes a stripped copy named prefix+Filename into dir for
// every image read from a file. Images built in memory are skipped.
func StripSeries(ctx context.Context, dir, prefix string, images []*models.CTImage, workers int) error {
	if prefix == "" {
		return fmt.Errorf("stripped copies need a file name prefix")
	}
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, img := range images {
		if img.Path == "" {
			continue
		}
		img := img
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return Strip(img.Path, filepath.Join(dir, prefix+img.Filename))
		})
	}
	return g.Wait()
}
