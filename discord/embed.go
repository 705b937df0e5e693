package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/go-authgate/ringbot/approval"
)

const footer = "ringbot"

var toneColors = map[approval.Tone]int{
	approval.ToneInfo:    0x0000ff,
	approval.ToneSuccess: 0x00ff00,
	approval.ToneWarning: 0xffa500,
	approval.ToneDanger:  0xff0000,
}

func toEmbed(m approval.Message) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       m.Title,
		Description: m.Description,
		Color:       toneColors[m.Tone],
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
	}
	for _, f := range m.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return e
}
