/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package codec

import (
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/internal/tempfile"
)

const fileCopyChunk = 1 << 24 // 16 MiB, matches transport's payload read chunk size

// FileInfo describes one member of a file bundle.
type FileInfo struct {
	Name string
	Path string
	Size int64
	Mime string
}

// Files is the owning handle returned by decoding a files payload: it owns
// every temp file backing it and must be closed (deleting them) exactly
// once, on success, error, or connection close -- never relying on
// garbage-collector finalizer timing.
type Files map[string]*FileInfo

// Close removes every temp file backing this bundle.
func (f Files) Close() error {
	var firstErr error
	for _, info := range f {
		if err := os.Remove(info.Path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fileCodec implements the "files" codec: encode concatenates file
// contents into a single temp file honoring the Offset header and records
// a Files header describing the bundle; decode partitions the payload
// back into per-file temp files using that header.
type fileCodec struct{}

func NewFileCodec() Codec { return fileCodec{} }

func (fileCodec) TypeID() uint8    { return FilesID }
func (fileCodec) TypeName() string { return "files" }

// normalizeFileInput accepts string path | []string | map[string]string |
// *FileInfo | []*FileInfo | map[string]*FileInfo | Files, and returns a
// stable-ordered slice of (key, *FileInfo) so Encode can stream them in a
// deterministic order.
func normalizeFileInput(data any) ([]string, map[string]*FileInfo, error) {
	toInfo := func(path string) (*FileInfo, error) {
		st, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		return &FileInfo{Name: baseName(path), Path: path, Size: st.Size()}, nil
	}

	switch v := data.(type) {
	case string:
		info, err := toInfo(v)
		if err != nil {
			return nil, nil, err
		}
		return []string{info.Name}, map[string]*FileInfo{info.Name: info}, nil
	case []string:
		keys := make([]string, 0, len(v))
		out := make(map[string]*FileInfo, len(v))
		for _, p := range v {
			info, err := toInfo(p)
			if err != nil {
				return nil, nil, err
			}
			keys = append(keys, info.Name)
			out[info.Name] = info
		}
		return keys, out, nil
	case map[string]string:
		keys := make([]string, 0, len(v))
		out := make(map[string]*FileInfo, len(v))
		for k, p := range v {
			info, err := toInfo(p)
			if err != nil {
				return nil, nil, err
			}
			keys = append(keys, k)
			out[k] = info
		}
		sort.Strings(keys)
		return keys, out, nil
	case *FileInfo:
		return []string{v.Name}, map[string]*FileInfo{v.Name: v}, nil
	case []*FileInfo:
		keys := make([]string, 0, len(v))
		out := make(map[string]*FileInfo, len(v))
		for _, info := range v {
			keys = append(keys, info.Name)
			out[info.Name] = info
		}
		return keys, out, nil
	case map[string]*FileInfo:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, v, nil
	case Files:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, (map[string]*FileInfo)(v), nil
	default:
		return nil, nil, catserr.Newf(catserr.KindInvalidCodec, "files codec cannot encode %T", data)
	}
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func (fileCodec) Encode(data any, h headers.Headers, _ Options) (any, error) {
	keys, files, err := normalizeFileInput(data)
	if err != nil {
		return nil, err
	}

	tmpPath, err := tempfile.Make()
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to allocate files temp file")
	}
	out, err := os.OpenFile(tmpPath, os.O_WRONLY, 0o600)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to open files temp file")
	}
	defer out.Close()

	offset := int64(h.Offset())
	descriptors := make([]map[string]any, 0, len(keys))

	for _, key := range keys {
		info := files[key]
		left := info.Size - offset
		if left < 0 {
			offset -= info.Size
			continue
		}
		offset = 0

		in, err := os.Open(info.Path)
		if err != nil {
			os.Remove(tmpPath)
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to open source file")
		}
		if _, err := in.Seek(info.Size-left, io.SeekStart); err != nil {
			in.Close()
			os.Remove(tmpPath)
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to seek source file")
		}
		if _, err := io.CopyN(out, in, left); err != nil && err != io.EOF {
			in.Close()
			os.Remove(tmpPath)
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to stream source file")
		}
		in.Close()

		descriptors = append(descriptors, map[string]any{
			"key": key, "name": info.Name, "size": left, "type": info.Mime,
		})
	}

	h.Set(headers.Files, descriptors)
	return tmpPath, nil
}

func (fileCodec) Decode(buf any, h headers.Headers, _ Options) (any, error) {
	var src io.Reader
	switch v := buf.(type) {
	case string:
		f, err := os.Open(v)
		if err != nil {
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to open files payload")
		}
		defer f.Close()
		src = f
	case []byte:
		src = bytes.NewReader(v)
	default:
		return nil, catserr.Newf(catserr.KindInvalidCodec, "files codec cannot decode %T", buf)
	}

	rawDescriptors, ok := h.Get(headers.Files)
	if !ok {
		return nil, catserr.New(catserr.KindMalformedHeaders, "missing Files header")
	}
	descList, ok := rawDescriptors.([]any)
	if !ok {
		if asDesc, ok2 := rawDescriptors.([]map[string]any); ok2 {
			descList = make([]any, len(asDesc))
			for i, d := range asDesc {
				descList[i] = d
			}
		} else {
			return nil, catserr.New(catserr.KindMalformedHeaders, "Files header must be a list")
		}
	}

	result := Files{}
	for i, raw := range descList {
		node, ok := raw.(map[string]any)
		if !ok {
			result.Close()
			return nil, catserr.Newf(catserr.KindMalformedHeaders, "Files header item[%d] must be an object", i)
		}
		key, _ := node["key"].(string)
		name, _ := node["name"].(string)
		size := toInt64(node["size"])
		mime, _ := node["type"].(string)

		path, err := tempfile.Make()
		if err != nil {
			result.Close()
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to allocate temp file")
		}
		out, err := os.OpenFile(path, os.O_WRONLY, 0o600)
		if err != nil {
			result.Close()
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to open temp file")
		}
		n, err := io.CopyN(out, src, size)
		out.Close()
		if err != nil || n != size {
			result.Close()
			os.Remove(path)
			return nil, catserr.New(catserr.KindCodecError, "failed to unpack file: not enough bytes")
		}

		result[key] = &FileInfo{Name: name, Path: path, Size: size, Mime: mime}
	}

	return result, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
