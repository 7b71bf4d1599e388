package imgx

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器（封面来源不一定总是 jpeg）
)

// NormalizeCoverJPEG 把任意封面图片归一化为 JPEG 字节流。
//
// 约束：
// - 输入允许是 JPEG/PNG（依赖标准库解码器）
// - 输出固定为 JPEG：m4b 封面流用 mjpeg 封装，喂给 ffmpeg 前先统一格式
// - 不做裁切/缩放：封面尺寸由来源决定
func NormalizeCoverJPEG(cover []byte) ([]byte, error) {
	if len(cover) == 0 {
		return nil, errors.New("封面为空")
	}

	img, format, err := image.Decode(bytes.NewReader(cover))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}

	// 已经是 JPEG：原样返回，避免二次有损压缩。
	if format == "jpeg" {
		return cover, nil
	}

	var out bytes.Buffer
	// 质量：不需要太“讲究”，但要稳定可用；95 在体积与质量之间比较均衡。
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
