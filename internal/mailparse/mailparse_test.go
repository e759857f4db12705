package mailparse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"satcom-gateway/internal/domain"
)

var now = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParse_PlainGarminMessage(t *testing.T) {
	raw := crlf(`From: "inReach" <no.reply.inreach@garmin.com>
To: Trail Gateway <trail.gateway@gmail.com>
Subject: inReach message from Sam
Message-ID: <CAF123@mail.garmin.com>
Date: Mon, 19 Oct 2026 07:55:10 +0000
Content-Type: text/plain; charset=utf-8

AI: how do I treat a snake bite

View the location or send a reply to Sam:
https://us0.explore.garmin.com/textmessage/txtmsg?extId=08dd1c2e-ab12&adr=trail.gateway%40gmail.com

Sam sent this message from: Lat 45.344227 Lon -122.236868
`)

	msg, err := Parse(raw, now)
	require.NoError(t, err)
	require.Equal(t, "CAF123@mail.garmin.com", msg.ID)
	require.Equal(t, "no.reply.inreach@garmin.com", msg.From)
	require.Equal(t, "trail.gateway@gmail.com", msg.To)
	require.Equal(t, "inReach message from Sam", msg.Subject)
	require.Equal(t, time.Date(2026, 10, 19, 7, 55, 10, 0, time.UTC), msg.ReceivedAt)
	require.Equal(t, domain.StatusPending, msg.Status)
	require.True(t, strings.HasPrefix(msg.Body, "AI: how do I treat a snake bite\n\nView the location"))
	require.Contains(t, msg.Body, "Lat 45.344227 Lon -122.236868")
	require.NotContains(t, msg.Body, "\r")
}

func TestParse_MultipartQuotedPrintable(t *testing.T) {
	raw := crlf(`From: no.reply.inreach@garmin.com
To: gw@example.com
Subject: =?UTF-8?Q?inReach_=E2=80=93_Sam?=
Content-Type: multipart/alternative; boundary="b1"

--b1
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

AI: WEATHER tomorrow=0Ahttps://inreachlink.com/AbC12=
3
--b1
Content-Type: text/html; charset=utf-8

<p>AI: WEATHER tomorrow</p>
--b1--
`)

	msg, err := Parse(raw, now)
	require.NoError(t, err)
	require.Equal(t, "inReach – Sam", msg.Subject)
	require.Equal(t, "AI: WEATHER tomorrow\nhttps://inreachlink.com/AbC123", msg.Body)
	require.Empty(t, msg.ID)
	require.Equal(t, now, msg.ReceivedAt)
}

func TestParse_HTMLOnly(t *testing.T) {
	raw := crlf(`From: a@b.c
To: gw@example.com
Content-Type: multipart/mixed; boundary=zz

--zz
Content-Type: text/html

<html><head><style>p{}</style></head><body><p>AI: NEWS</p><p>reply: https://inreachlink.com/x</p></body></html>
--zz
Content-Type: image/png
Content-Transfer-Encoding: base64

iVBORw0KGgo=
--zz--
`)
	msg, err := Parse(raw, now)
	require.NoError(t, err)
	require.Equal(t, "AI: NEWS\nreply: https://inreachlink.com/x", msg.Body)
}

func TestParse_Base64Body(t *testing.T) {
	// "AI: HELP\n" wrapped across two lines.
	raw := crlf(`From: a@b.c
To: gw@example.com
Content-Type: text/plain
Content-Transfer-Encoding: base64

QUk6IEhF
TFAK
`)
	msg, err := Parse(raw, now)
	require.NoError(t, err)
	require.Equal(t, "AI: HELP\n", msg.Body)
}

func TestParse_NoTextPart(t *testing.T) {
	raw := crlf(`From: a@b.c
Content-Type: multipart/mixed; boundary=zz

--zz
Content-Type: application/pdf

%PDF
--zz--
`)
	_, err := Parse(raw, now)
	require.ErrorIs(t, err, ErrNoBody)
}

func TestParse_Garbage(t *testing.T) {
	_, err := Parse([]byte("not a mail"), now)
	require.Error(t, err)
}
