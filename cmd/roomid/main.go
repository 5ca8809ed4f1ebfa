package main

import (
	"fmt"
	"os"

	"sangam/internal/chat"
	"sangam/internal/content"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Println("Usage: roomid <userId> <userId>")
		os.Exit(1)
	}

	for _, id := range os.Args[1:] {
		if err := content.ValidateUserID(id); err != nil {
			fmt.Printf("Invalid user id %q: %v\n", id, err)
			os.Exit(1)
		}
	}

	fmt.Println(chat.ConversationID(os.Args[1], os.Args[2]))
}
