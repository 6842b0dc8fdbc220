package fetcher

import (
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

type mimeAttachment struct {
	filename    string
	contentType string
	content     []byte
}

type mimeContent struct {
	text        string
	html        string
	attachments []mimeAttachment
}

func parseMIME(r io.Reader) (*mimeContent, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	out := &mimeContent{}
	if err := walkEntity(entity, out); err != nil {
		return nil, err
	}
	return out, nil
}

func walkEntity(entity *message.Entity, out *mimeContent) error {
	mediaType, params, _ := entity.Header.ContentType()

	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return fmt.Errorf("failed to read part: %w", err)
			}
			if err := walkEntity(part, out); err != nil {
				return err
			}
		}
	}

	filename := attachmentName(entity, params)
	if filename == "" && (mediaType == "text/plain" || mediaType == "text/html" || mediaType == "") {
		body, err := io.ReadAll(entity.Body)
		if err != nil {
			return fmt.Errorf("failed to read part body: %w", err)
		}
		switch {
		case mediaType == "text/html":
			if out.html == "" {
				out.html = string(body)
			}
		case out.text == "":
			out.text = string(body)
		}
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}
	if len(content) == 0 {
		return nil
	}
	if filename == "" {
		filename = "attachment"
		if mediaType == "application/pdf" {
			filename += ".pdf"
		}
	}
	out.attachments = append(out.attachments, mimeAttachment{
		filename:    filename,
		contentType: mediaType,
		content:     content,
	})
	return nil
}

func attachmentName(entity *message.Entity, typeParams map[string]string) string {
	var filename string
	if disp := entity.Header.Get("Content-Disposition"); disp != "" {
		if _, dispParams, err := mime.ParseMediaType(disp); err == nil {
			filename = dispParams["filename"]
		}
	}
	if filename == "" {
		filename = typeParams["name"]
	}
	if filename != "" {
		dec := new(mime.WordDecoder)
		if decoded, err := dec.DecodeHeader(filename); err == nil {
			filename = decoded
		}
	}
	return strings.TrimSpace(filename)
}
