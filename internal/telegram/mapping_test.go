package telegram

import (
	"testing"
	"time"

	"github.com/l4rz/memefax/internal/domain"

	"github.com/gotd/td/tg"
)

func TestPeerToChatID(t *testing.T) {
	cases := []struct {
		name string
		peer tg.PeerClass
		want int64
	}{
		{"user", &tg.PeerUser{UserID: 123}, 123},
		{"basic group", &tg.PeerChat{ChatID: 456}, -456},
		{"channel", &tg.PeerChannel{ChannelID: 789}, -(channelChatIDOffset + 789)},
	}
	for _, tc := range cases {
		got, ok := peerToChatID(tc.peer)
		if !ok {
			t.Fatalf("%s: peer not resolved", tc.name)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestDocumentMedia(t *testing.T) {
	cases := []struct {
		name     string
		attrs    []tg.DocumentAttributeClass
		mime     string
		wantKind domain.MediaKind
		wantExt  string
	}{
		{"video mime", nil, "video/webm", domain.MediaVideo, ".mp4"},
		{"mpeg audio", nil, "audio/mpeg", domain.MediaAudio, ".mp3"},
		{"other audio", nil, "audio/ogg", domain.MediaAudio, ".ogg"},
		{"image document is a photo", nil, "image/png", domain.MediaPhoto, ".png"},
		{
			"filename extension",
			[]tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "Report.PDF"}},
			"application/octet-stream",
			domain.MediaDocument, ".pdf",
		},
		{
			"mime outranks filename",
			[]tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "clip.bin"}},
			"video/quicktime",
			domain.MediaVideo, ".mp4",
		},
		{"no signal", nil, "application/x-unknown", domain.MediaDocument, ".dat"},
		{
			"extensionless filename",
			[]tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "README"}},
			"",
			domain.MediaDocument, ".dat",
		},
	}
	for _, tc := range cases {
		kind, ext := documentMedia(tc.attrs, tc.mime)
		if kind != tc.wantKind || ext != tc.wantExt {
			t.Fatalf("%s: expected (%s, %s), got (%s, %s)", tc.name, tc.wantKind, tc.wantExt, kind, ext)
		}
	}
}

func TestLargestPhotoSize(t *testing.T) {
	sizes := []tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "s", Size: 1000},
		&tg.PhotoSize{Type: "y", Size: 90000},
		&tg.PhotoSize{Type: "m", Size: 20000},
	}
	thumbType, size := largestPhotoSize(sizes)
	if thumbType != "y" || size != 90000 {
		t.Fatalf("expected (y, 90000), got (%s, %d)", thumbType, size)
	}
}

func TestToMessageMapsFields(t *testing.T) {
	msg := &tg.Message{
		ID:      42,
		Date:    1700000000,
		Message: "hello there",
	}
	msg.SetFromID(&tg.PeerUser{UserID: 7})
	reply := &tg.MessageReplyHeader{}
	reply.SetReplyToMsgID(41)
	msg.SetReplyTo(reply)
	fwd := tg.MessageFwdHeader{}
	fwd.SetFromID(&tg.PeerUser{UserID: 99})
	msg.SetFwdFrom(fwd)

	entities := buildEntityLookup([]tg.UserClass{
		&tg.User{ID: 7, FirstName: "Bob", Username: "bob"},
	}, nil)

	retrievedAt := time.Now().UTC()
	out := toMessage(msg, entities, retrievedAt)

	if out.ID != 42 {
		t.Fatalf("expected id 42, got %d", out.ID)
	}
	if out.Date != time.Unix(1700000000, 0).UTC() {
		t.Fatalf("unexpected date %v", out.Date)
	}
	if out.FromID != 7 {
		t.Fatalf("expected from_id 7, got %d", out.FromID)
	}
	if out.ReplyToMsgID != 41 {
		t.Fatalf("expected reply 41, got %d", out.ReplyToMsgID)
	}
	if out.ForwardFrom != 99 {
		t.Fatalf("expected forward_from 99, got %d", out.ForwardFrom)
	}
	if out.Sender == nil || out.Sender.Name != "Bob" || out.Sender.Username != "bob" {
		t.Fatalf("unexpected sender %+v", out.Sender)
	}
	if out.Media != nil || out.MediaType != "" {
		t.Fatalf("text message should carry no media, got %q", out.MediaType)
	}
}

func TestExtractMediaRefDocument(t *testing.T) {
	media := &tg.MessageMediaDocument{}
	media.SetDocument(&tg.Document{
		ID:         555,
		AccessHash: 777,
		Size:       4096,
		MimeType:   "application/pdf",
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: "paper.pdf"},
		},
	})

	ref := extractMediaRef(media)
	if ref == nil {
		t.Fatal("expected media ref")
	}
	if ref.Kind != domain.MediaDocument || ref.DocumentID != 555 || ref.AccessHash != 777 {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if ref.Extension != ".pdf" || ref.Size != 4096 {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if ref.IsPhoto {
		t.Fatal("document ref flagged as photo")
	}
}
