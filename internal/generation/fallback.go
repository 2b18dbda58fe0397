package generation

import (
	"fmt"
	"hash/fnv"
)

var intros = []string{
	`Thank you for your question about "%s". As a halal AI assistant, I'm happy to provide an informative response that adheres to Islamic principles.`,
	`Your question about "%s" is an interesting one. Let me offer some insights that are beneficial and in line with Islamic values.`,
	`I've considered your query regarding "%s" and would like to share some thoughts that are both helpful and appropriate from an Islamic perspective.`,
}

const fallbackBody = `

In addressing this topic, it's important to approach it with wisdom and consideration for ethical principles. Islam encourages seeking knowledge and understanding the world around us, while maintaining our moral compass.

The Prophet Muhammad (peace be upon him) said: "Seeking knowledge is an obligation upon every Muslim." This hadith reminds us of the importance of education and continuous learning.

When we consider "%s" specifically, we should look at it through the lens of benefit and harm. Does it bring good to ourselves and our community? Does it align with the principles of justice, compassion, and integrity that Islam promotes?

This response was prepared in a %s tone for %s content, aiming for %d to %d words.

I hope this provides some guidance on your question. If you need more specific information or have follow-up questions, please feel free to ask.

May Allah grant us all beneficial knowledge and guide us to what is best.`

// Fallback returns templated text for req. The same request always yields
// the same text.
func Fallback(req Request) string {
	req = withDefaults(req)

	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Prompt))
	intro := intros[h.Sum32()%uint32(len(intros))]

	return fmt.Sprintf(intro, req.Prompt) +
		fmt.Sprintf(fallbackBody, req.Prompt, req.Tone, req.Tool, req.MinWords, req.MaxWords)
}
