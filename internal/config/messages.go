package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Messages holds every user-facing text and prompt of the bot.
// Templates use {name}, {document} and {question} placeholders.
type Messages struct {
	Persona          string `yaml:"persona"`
	GroundingPrompt  string `yaml:"grounding_prompt"`
	Start            string `yaml:"start"`
	Help             string `yaml:"help"`
	UploadOK         string `yaml:"upload_ok"`
	UploadFailed     string `yaml:"upload_failed"`
	SelectEmpty      string `yaml:"select_empty"`
	SelectHeader     string `yaml:"select_header"`
	Chosen           string `yaml:"chosen"`
	InvalidSelection string `yaml:"invalid_selection"`
	Reset            string `yaml:"reset"`
	ResetPartial     string `yaml:"reset_partial"`
	NoData           string `yaml:"no_data"`
	Busy             string `yaml:"busy"`
	Failure          string `yaml:"failure"`
	EmptyQuestion    string `yaml:"empty_question"`
}

func DefaultMessages() Messages {
	return Messages{
		Persona: "You are a helpful assistant. Your name is Ragoût.",
		GroundingPrompt: `You will be given a document and asked questions about it.
Document: {document}

Use ONLY the factual information from the document to answer. For every answer, quote the passage of the document where the information is written. If the document does not contain enough information to answer, reply "I don't know". Answers should be detailed and thorough.

Question: {question}`,
		Start: "Hi there! I'm Ragoût. For more information, type /help. " +
			"You can start by asking questions about 'Master and Margarita'.",
		Help: "I can answer questions about 'Master and Margarita' out of the box. Just ask!\n" +
			"Send me a PDF or TXT document to ask questions about your own files.\n" +
			"/select - choose which of your documents to query\n" +
			"/reset - delete your documents and start a new conversation",
		UploadOK:         "Document '{name}' processed! Use /select to choose a document for queries.",
		UploadFailed:     "Failed to process the document. Please ensure it is a valid file.",
		SelectEmpty:      "No documents uploaded. Please upload a document first.",
		SelectHeader:     "Please choose a document by number:",
		Chosen:           "You selected '{name}'. Now you can ask questions about this document.",
		InvalidSelection: "Invalid selection. Use /select to see available documents.",
		Reset:            "Your data has been reset. Start again by uploading a new document.",
		ResetPartial: "Your conversation and documents have been reset. Some stored document data " +
			"could not be removed yet and will be cleaned up shortly.",
		NoData:        "I couldn't find anything relevant in that document. Try another question or /select a different document.",
		Busy:          "I'm receiving too many requests right now. Please try again in a minute.",
		Failure:       "Something went wrong while handling your request. Please try again.",
		EmptyQuestion: "Please send me a question.",
	}
}

// LoadMessages overlays the YAML file at path on top of the defaults.
// An empty path returns the defaults.
func LoadMessages(path string) (Messages, error) {
	msgs := DefaultMessages()
	if path == "" {
		return msgs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return msgs, fmt.Errorf("read messages file: %w", err)
	}

	var overlay Messages
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return msgs, fmt.Errorf("parse messages file: %w", err)
	}
	msgs.merge(overlay)
	return msgs, nil
}

func (m *Messages) merge(o Messages) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&m.Persona, o.Persona)
	set(&m.GroundingPrompt, o.GroundingPrompt)
	set(&m.Start, o.Start)
	set(&m.Help, o.Help)
	set(&m.UploadOK, o.UploadOK)
	set(&m.UploadFailed, o.UploadFailed)
	set(&m.SelectEmpty, o.SelectEmpty)
	set(&m.SelectHeader, o.SelectHeader)
	set(&m.Chosen, o.Chosen)
	set(&m.InvalidSelection, o.InvalidSelection)
	set(&m.Reset, o.Reset)
	set(&m.ResetPartial, o.ResetPartial)
	set(&m.NoData, o.NoData)
	set(&m.Busy, o.Busy)
	set(&m.Failure, o.Failure)
	set(&m.EmptyQuestion, o.EmptyQuestion)
}
