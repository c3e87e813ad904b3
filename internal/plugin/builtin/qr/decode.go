package qr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"toolbox/internal/toolerr"
)

type pass struct {
	img   image.Image
	hints map[gozxing.DecodeHintType]interface{}
}

// Decode finds a QR code in an encoded image (jpeg, png, gif, bmp, webp).
func Decode(ctx context.Context, data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", toolerr.Decode("unsupported or corrupt image", err)
	}
	return DecodeImage(ctx, img)
}

// DecodeImage runs the plain, try-harder and inverted passes concurrently
// and returns the first pass, in that order, that found a code.
func DecodeImage(ctx context.Context, img image.Image) (string, error) {
	harder := map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
	passes := []pass{
		{img: img},
		{img: img, hints: harder},
		{img: invert(img), hints: harder},
	}

	found := make([]string, len(passes))
	fails := make([]error, len(passes))
	g, gctx := errgroup.WithContext(ctx)
	for i, ps := range passes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bmp, err := gozxing.NewBinaryBitmapFromImage(ps.img)
			if err != nil {
				fails[i] = err
				return nil
			}
			res, err := qrcode.NewQRCodeReader().Decode(bmp, ps.hints)
			if err != nil {
				fails[i] = err
				return nil
			}
			found[i] = res.GetText()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", toolerr.Wrap(toolerr.Internal, "decode canceled", err)
	}
	for _, text := range found {
		if text != "" {
			return text, nil
		}
	}
	return "", toolerr.Decode("no QR code found", fails[0])
}

// invert returns a grayscale negative, for light-on-dark codes.
func invert(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			out.SetGray(x, y, color.Gray{Y: 255 - g.Y})
		}
	}
	return out
}
