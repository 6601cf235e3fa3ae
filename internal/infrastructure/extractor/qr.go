package extractor

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

var supportedImageTypes = []string{"image/png", "image/jpeg"}

func qrTag(data []byte) domain.TagResult {
	detected := mimetype.Detect(data)
	if !detected.Is(supportedImageTypes[0]) && !detected.Is(supportedImageTypes[1]) {
		return domain.MalformedResult("unexpected image signature " + detected.String())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return domain.MalformedResult("undecodable image: " + err.Error())
	}
	payload, err := decodeQR(img)
	if err != nil {
		var notFound gozxing.NotFoundException
		if errors.As(err, &notFound) {
			return domain.NoTagResult()
		}
		return domain.MalformedResult("qr decode: " + err.Error())
	}
	return tagFromPayload(payload)
}

func decodeQR(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return result.GetText(), nil
}
